package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
)

// StdioConfig describes the server process to spawn.
type StdioConfig struct {
	Command string
	Args    []string
	// Env is added to the hub's own environment.
	Env map[string]string
	Dir string

	// StartupGrace is how long Open watches for an immediate exit.
	StartupGrace time.Duration
	// ShutdownTimeout bounds how long Close waits after SIGTERM before
	// killing the process.
	ShutdownTimeout time.Duration

	Logger logging.Logger
}

const (
	defaultStartupGrace    = 50 * time.Millisecond
	defaultShutdownTimeout = 2 * time.Second
	// exitGrace is how long the reader waits, after stdout closes, for the
	// process to exit before calling the end of stream a plain EOF.
	exitGrace = 250 * time.Millisecond
	// stderrTail is how many trailing bytes of stderr are kept for errors.
	stderrTail = 4096
)

// StdioTransport runs a tool server as a child process and exchanges
// newline-delimited frames over its stdin and stdout.
type StdioTransport struct {
	cfg    StdioConfig
	logger logging.Logger

	mu      sync.Mutex
	opened  bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *tailWriter
	exited  chan struct{}
	waitErr error

	writeMu sync.Mutex
	frames  chan Frame
	closing chan struct{}
	group   errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// NewStdioTransport creates a transport for the configured command. The
// process is started by Open.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = defaultStartupGrace
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &StdioTransport{
		cfg:     cfg,
		logger:  logger.WithFields(logging.Component("stdio-transport"), logging.String("command", cfg.Command)),
		frames:  make(chan Frame, frameBuffer),
		closing: make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// Open spawns the process and waits StartupGrace for it to settle.
func (t *StdioTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return mcperrors.ClosedTransportError("stdio", "open")
	}
	if t.opened {
		return mcperrors.TransportError("stdio", "open", errors.New("already open"))
	}
	if t.cfg.Command == "" {
		return mcperrors.TransportError("stdio", "open", errors.New("no command configured"))
	}

	path, err := exec.LookPath(t.cfg.Command)
	if err != nil {
		return mcperrors.TransportError("stdio", "open", err)
	}

	cmd := exec.Command(path, t.cfg.Args...)
	cmd.Env = mergeEnv(os.Environ(), t.cfg.Env)
	cmd.Dir = t.cfg.Dir
	cmd.WaitDelay = t.cfg.ShutdownTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return mcperrors.TransportError("stdio", "open", err)
	}
	// A plain pipe instead of StdoutPipe: Wait must be able to run while the
	// reader is still draining stdout.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return mcperrors.TransportError("stdio", "open", err)
	}
	cmd.Stdout = stdoutW
	t.stderr = &tailWriter{logger: t.logger, limit: stderrTail}
	cmd.Stderr = t.stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return mcperrors.TransportError("stdio", "open", err)
	}
	_ = stdoutW.Close()

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdoutR
	t.group.Go(t.wait)

	timer := time.NewTimer(t.cfg.StartupGrace)
	defer timer.Stop()
	select {
	case <-t.exited:
		_ = stdin.Close()
		_ = stdoutR.Close()
		return mcperrors.ProcessExited("open", exitCode(t.waitErr), t.stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-t.exited
		_ = stdin.Close()
		_ = stdoutR.Close()
		return mcperrors.TransportError("stdio", "open", ctx.Err())
	case <-timer.C:
	}

	t.opened = true
	t.group.Go(t.read)
	t.logger.Debug("process started", logging.Int("pid", cmd.Process.Pid))
	return nil
}

func (t *StdioTransport) wait() error {
	t.waitErr = t.cmd.Wait()
	close(t.exited)
	return nil
}

// read forwards stdout lines as frames and finishes with one terminal
// frame, unless Close interrupted it.
func (t *StdioTransport) read() error {
	defer close(t.frames)

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)

		select {
		case t.frames <- Frame{Data: data}:
		case <-t.closing:
			return nil
		}
	}

	end := &Termination{Kind: TerminationEOF}
	if err := scanner.Err(); err != nil {
		select {
		case <-t.closing:
			return nil
		default:
		}
		end = &Termination{Kind: TerminationError, Err: mcperrors.TransportError("stdio", "read", err)}
	} else {
		timer := time.NewTimer(exitGrace)
		select {
		case <-t.exited:
			end = &Termination{Kind: TerminationExit, ExitCode: exitCode(t.waitErr), Stderr: t.stderr.String()}
		case <-timer.C:
		case <-t.closing:
			timer.Stop()
			return nil
		}
		timer.Stop()
	}

	t.logger.Debug("stream ended", logging.String("reason", end.Kind.String()), logging.Int("exit_code", end.ExitCode))
	select {
	case t.frames <- Frame{End: end}:
	case <-t.closing:
	}
	return nil
}

// Send writes frame followed by a newline. Frames must not contain raw
// newlines.
func (t *StdioTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	closed, opened, stdin := t.closed, t.opened, t.stdin
	t.mu.Unlock()

	if closed {
		return mcperrors.ClosedTransportError("stdio", "send")
	}
	if !opened {
		return mcperrors.TransportNotOpen("stdio", "send")
	}
	if bytes.IndexByte(frame, '\n') >= 0 {
		return mcperrors.TransportError("stdio", "send", errors.New("frame contains a newline"))
	}
	if err := ctx.Err(); err != nil {
		return mcperrors.TransportError("stdio", "send", err)
	}

	line := make([]byte, len(frame)+1)
	copy(line, frame)
	line[len(frame)] = '\n'

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(line); err != nil {
		if t.isClosed() {
			return mcperrors.ClosedTransportError("stdio", "send")
		}
		return mcperrors.TransportError("stdio", "send", err)
	}
	return nil
}

// Frames returns the inbound sequence.
func (t *StdioTransport) Frames() (<-chan Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, mcperrors.ClosedTransportError("stdio", "frames")
	}
	if !t.opened {
		return nil, mcperrors.TransportNotOpen("stdio", "frames")
	}
	return t.frames, nil
}

// Close closes stdin, sends SIGTERM, and kills the process if it has not
// exited within ShutdownTimeout.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		opened := t.opened
		t.mu.Unlock()
		close(t.closing)

		if !opened {
			return
		}

		_ = t.stdin.Close()
		select {
		case <-t.exited:
		default:
			if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.logger.Debug("sigterm failed", logging.ErrorField(err))
			}
			timer := time.NewTimer(t.cfg.ShutdownTimeout)
			select {
			case <-t.exited:
			case <-timer.C:
				t.logger.Warn("process ignored SIGTERM, killing")
				_ = t.cmd.Process.Kill()
				<-t.exited
			}
			timer.Stop()
		}

		_ = t.stdout.Close()
		t.closeErr = t.group.Wait()
	})
	return t.closeErr
}

func (t *StdioTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Pid returns the process id, or 0 before Open.
func (t *StdioTransport) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if _, overridden := extra[name]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}

// tailWriter logs each stderr line at debug and keeps the last limit bytes.
type tailWriter struct {
	logger  logging.Logger
	limit   int
	mu      sync.Mutex
	buf     []byte
	partial []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.partial[:i]); len(line) > 0 {
			w.logger.Debug("server stderr", logging.String("line", string(line)))
		}
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) > w.limit {
		w.partial = w.partial[len(w.partial)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	if w == nil {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(bytes.TrimSpace(w.buf))
}
