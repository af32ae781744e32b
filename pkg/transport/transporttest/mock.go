package transporttest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// Mock is an in-memory Transport. When Server is set, every sent frame is
// answered by it; otherwise frames are only recorded.
type Mock struct {
	Server *StubServer
	// OpenErr, when set, is returned from Open.
	OpenErr error
	// ReplyDelay postpones every reply from Server.
	ReplyDelay time.Duration

	opens  atomic.Int32
	sends  atomic.Int32
	closes atomic.Int32

	mu     sync.Mutex
	opened bool
	closed bool
	ended  bool
	sent   [][]byte
	frames chan transport.Frame
}

var _ transport.Transport = (*Mock)(nil)

// NewMock returns a Mock answering with server, which may be nil.
func NewMock(server *StubServer) *Mock {
	return &Mock{Server: server, frames: make(chan transport.Frame, 1024)}
}

func (m *Mock) Open(ctx context.Context) error {
	m.opens.Add(1)
	if err := ctx.Err(); err != nil {
		return mcperrors.TransportError("mock", "open", err)
	}
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return mcperrors.ClosedTransportError("mock", "open")
	}
	m.opened = true
	return nil
}

func (m *Mock) Send(ctx context.Context, frame []byte) error {
	m.sends.Add(1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return mcperrors.ClosedTransportError("mock", "send")
	}
	if !m.opened {
		m.mu.Unlock()
		return mcperrors.TransportNotOpen("mock", "send")
	}
	m.sent = append(m.sent, append([]byte(nil), frame...))
	m.mu.Unlock()

	if m.Server == nil {
		return nil
	}
	replies := m.Server.Handle(frame)
	if m.ReplyDelay > 0 {
		time.AfterFunc(m.ReplyDelay, func() {
			for _, r := range replies {
				m.Inject(r)
			}
		})
		return nil
	}
	for _, r := range replies {
		m.Inject(r)
	}
	return nil
}

func (m *Mock) Frames() (<-chan transport.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, mcperrors.ClosedTransportError("mock", "frames")
	}
	if !m.opened {
		return nil, mcperrors.TransportNotOpen("mock", "frames")
	}
	return m.frames, nil
}

func (m *Mock) Close() error {
	m.closes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if !m.ended {
		m.ended = true
		close(m.frames)
	}
	return nil
}

// Inject delivers a data frame as if the server had sent it.
func (m *Mock) Inject(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.frames <- transport.Frame{Data: frame}
}

// End finishes the inbound sequence with a terminal frame.
func (m *Mock) End(end *transport.Termination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	m.frames <- transport.Frame{End: end}
	close(m.frames)
}

// Crash ends the sequence as a process exit with code.
func (m *Mock) Crash(code int) {
	m.End(&transport.Termination{Kind: transport.TerminationExit, ExitCode: code})
}

// Opens returns how many times Open was called.
func (m *Mock) Opens() int { return int(m.opens.Load()) }

// Sends returns how many times Send was called.
func (m *Mock) Sends() int { return int(m.sends.Load()) }

// Closes returns how many times Close was called.
func (m *Mock) Closes() int { return int(m.closes.Load()) }

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Sent returns a copy of every frame passed to Send.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}
