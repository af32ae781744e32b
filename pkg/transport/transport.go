package transport

import (
	"context"
	"io"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
)

// Transport moves raw protocol frames between the hub and one tool server.
// Implementations are safe for concurrent Send calls.
type Transport interface {
	// Open establishes the underlying channel. It fails with a
	// TransportError when the process cannot be started, exits during
	// startup, or the endpoint is unreachable.
	Open(ctx context.Context) error

	// Send writes one complete frame.
	Send(ctx context.Context, frame []byte) error

	// Frames returns the inbound frame sequence. The same channel is
	// returned on every call; it delivers data frames in receipt order, then
	// at most one terminal frame, then is closed.
	Frames() (<-chan Frame, error)

	// Close releases the process or connection. It is idempotent; every
	// other method fails with ClosedTransportError afterwards.
	Close() error
}

// Kind names a transport strategy.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindHTTP  Kind = "http"
)

// TerminationKind says why a frame sequence ended.
type TerminationKind int

const (
	// TerminationEOF is a graceful end of stream.
	TerminationEOF TerminationKind = iota
	// TerminationExit means the server process exited; ExitCode is set.
	TerminationExit
	// TerminationError means reading the stream failed; Err is set.
	TerminationError
)

func (k TerminationKind) String() string {
	switch k {
	case TerminationEOF:
		return "eof"
	case TerminationExit:
		return "exit"
	case TerminationError:
		return "error"
	default:
		return "unknown"
	}
}

// Termination describes the end of a frame sequence.
type Termination struct {
	Kind     TerminationKind
	ExitCode int
	Stderr   string
	Err      error
}

// Cause converts the termination into the error pending requests are
// rejected with.
func (t *Termination) Cause() error {
	switch t.Kind {
	case TerminationExit:
		return mcperrors.ProcessExited("read", t.ExitCode, t.Stderr)
	case TerminationError:
		if t.Err != nil {
			return t.Err
		}
	}
	return io.EOF
}

// Frame is one element of a transport's inbound sequence: either a data
// frame or the terminal event.
type Frame struct {
	Data []byte
	End  *Termination
}

// Terminal reports whether f ends the sequence.
func (f Frame) Terminal() bool {
	return f.End != nil
}

// frameBuffer is the capacity of a transport's inbound channel. Readers
// block once it is full, which pushes back on the server.
const frameBuffer = 64

// maxFrameSize bounds one inbound frame.
const maxFrameSize = 4 << 20
