package transporttest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
)

// Environment variables read by the stdio stub process.
const (
	envStub            = "TOOLHUB_STDIO_STUB"
	envExitImmediately = "TOOLHUB_STUB_EXIT_IMMEDIATELY"
	envExitAfterInit   = "TOOLHUB_STUB_EXIT_AFTER_HANDSHAKE"
	envProtocolVersion = "TOOLHUB_STUB_PROTOCOL"
	envIgnoreTerm      = "TOOLHUB_STUB_IGNORE_TERM"
	envSilent          = "TOOLHUB_STUB_SILENT"
)

// StubBehavior configures the stdio stub process.
type StubBehavior struct {
	// ExitImmediately makes the process exit with ExitCode before reading.
	ExitImmediately bool
	// ExitAfterHandshake makes the process exit with ExitCode once it
	// receives notifications/initialized.
	ExitAfterHandshake bool
	ExitCode           int
	ProtocolVersion    string
	// IgnoreTerm makes the process ignore SIGTERM.
	IgnoreTerm bool
	// Silent names one method the process never answers.
	Silent string
}

// StdioCommand returns the command, arguments and environment that start
// the current test binary as a stdio stub server. The test package's
// TestMain must call RunStdioStubIfRequested.
func StdioCommand(b StubBehavior) (string, []string, map[string]string) {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	env := map[string]string{envStub: "1"}
	if b.ExitImmediately {
		env[envExitImmediately] = strconv.Itoa(b.ExitCode)
	}
	if b.ExitAfterHandshake {
		env[envExitAfterInit] = strconv.Itoa(b.ExitCode)
	}
	if b.ProtocolVersion != "" {
		env[envProtocolVersion] = b.ProtocolVersion
	}
	if b.IgnoreTerm {
		env[envIgnoreTerm] = "1"
	}
	if b.Silent != "" {
		env[envSilent] = b.Silent
	}
	return exe, []string{"-test.run=^$"}, env
}

// RunStdioStubIfRequested turns the process into a stdio stub server when
// it was started by StdioCommand, and never returns in that case.
func RunStdioStubIfRequested() {
	if os.Getenv(envStub) != "1" {
		return
	}
	if os.Getenv(envIgnoreTerm) == "1" {
		signal.Ignore(syscall.SIGTERM)
	}
	if v, ok := os.LookupEnv(envExitImmediately); ok {
		code, _ := strconv.Atoi(v)
		fmt.Fprintln(os.Stderr, "stub: refusing to start")
		os.Exit(code)
	}

	stub := &StubServer{ProtocolVersion: os.Getenv(envProtocolVersion)}
	if m := os.Getenv(envSilent); m != "" {
		stub.Silent = map[string]bool{m: true}
	}
	exitAfter := -1
	if v, ok := os.LookupEnv(envExitAfterInit); ok {
		exitAfter, _ = strconv.Atoi(v)
	}

	fmt.Fprintln(os.Stderr, "stub: ready")
	os.Exit(ServeStdio(stub, os.Stdin, os.Stdout, exitAfter))
}

// ServeStdio answers newline-delimited frames from in on out until in
// ends. With exitAfterHandshake >= 0 it stops as soon as the client's
// initialized notification arrives and returns that code.
func ServeStdio(stub *StubServer, in io.Reader, out io.Writer, exitAfterHandshake int) int {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	w := bufio.NewWriter(out)
	for scanner.Scan() {
		frame := scanner.Bytes()
		for _, reply := range stub.Handle(frame) {
			_, _ = w.Write(reply)
			_ = w.WriteByte('\n')
		}
		_ = w.Flush()
		if exitAfterHandshake >= 0 && stub.Calls(protocol.NotificationInitialized) > 0 {
			fmt.Fprintln(os.Stderr, "stub: exiting after handshake")
			return exitAfterHandshake
		}
	}
	return 0
}
