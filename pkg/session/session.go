// Package session implements the client side of the Model Context Protocol
// over a single transport: the initialize handshake, request correlation,
// discovery and tool invocation.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// Session is one protocol-level connection to a tool server. The
// transport must be open before Initialize is called; the session owns it
// from then on and closes it in Close.
//
// Every request registers a pending entry before its frame is sent, and
// every entry is resolved exactly once: by the matching response, by its
// timeout or context, or by the end of the session.
type Session struct {
	transport        transport.Transport
	logger           logging.Logger
	tracer           trace.Tracer
	observer         RequestObserver
	serverID         string
	clientInfo       protocol.Implementation
	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	onNotification   NotificationHandler
	onClose          CloseHandler

	nextID  atomic.Int64
	pending *pendingTable

	mu          sync.RWMutex
	started     bool
	startErr    error
	initialized bool
	init        protocol.InitializeResult
	tools       []protocol.Tool
	toolIndex   map[string]*toolEntry
	closeErr    error

	startOnce  sync.Once
	closing    atomic.Bool
	closeOnce  sync.Once
	finishOnce sync.Once
	done       chan struct{}
	loopDone   chan struct{}
}

// New creates a session over t. Nothing is sent until Initialize.
func New(t transport.Transport, opts ...Option) *Session {
	s := &Session{
		transport:        t,
		logger:           logging.Nop(),
		tracer:           noop.NewTracerProvider().Tracer(""),
		clientInfo:       protocol.Implementation{Name: "mcp-toolhub", Version: "0.1.0"},
		handshakeTimeout: DefaultHandshakeTimeout,
		requestTimeout:   DefaultRequestTimeout,
		pending:          newPendingTable(),
		toolIndex:        make(map[string]*toolEntry),
		done:             make(chan struct{}),
		loopDone:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.Component("session"), logging.ServerID(s.serverID))
	return s
}

// Initialize performs the handshake: it announces the client, checks the
// protocol version the server answers with, and confirms with the
// initialized notification. Any failure is a HandshakeError; the caller
// should Close the session afterwards.
func (s *Session) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	s.mu.RLock()
	if s.initialized {
		res := s.init
		s.mu.RUnlock()
		return &res, nil
	}
	s.mu.RUnlock()

	if err := s.start(); err != nil {
		return nil, mcperrors.HandshakeError("transport not ready", err)
	}

	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		ClientInfo:      s.clientInfo,
	}
	raw, err := s.request(ctx, protocol.MethodInitialize, params, s.handshakeTimeout)
	if err != nil {
		return nil, mcperrors.HandshakeError("initialize request failed", err)
	}

	var res protocol.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperrors.HandshakeError("malformed result", err)
	}
	if res.ProtocolVersion == "" {
		return nil, mcperrors.HandshakeError("malformed result", fmt.Errorf("missing protocolVersion"))
	}
	if !protocol.IsSupportedVersion(res.ProtocolVersion) {
		return nil, mcperrors.HandshakeError("protocol version mismatch",
			mcperrors.VersionMismatch(res.ProtocolVersion, protocol.SupportedVersions))
	}

	if err := s.notify(ctx, protocol.NotificationInitialized, nil); err != nil {
		return nil, mcperrors.HandshakeError("initialized notification failed", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.init = res
	s.mu.Unlock()

	s.logger.Info("session initialized",
		logging.String("protocol_version", res.ProtocolVersion),
		logging.String("server_name", res.ServerInfo.Name),
		logging.String("server_version", res.ServerInfo.Version))
	return &res, nil
}

// start launches the dispatch loop once.
func (s *Session) start() error {
	s.startOnce.Do(func() {
		frames, err := s.transport.Frames()
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.startErr = err
			return
		}
		s.started = true
		go s.dispatch(frames)
	})
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startErr
}

// request sends method and waits up to timeout for its response.
func (s *Session) request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ctx, span := s.tracer.Start(ctx, "mcp.client/"+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
			attribute.Int64("rpc.jsonrpc.request_id", id),
			attribute.String("mcp.server_id", s.serverID),
		))
	defer span.End()

	start := time.Now()
	result, err := s.roundTrip(ctx, id, method, params, timeout)
	if s.observer != nil {
		s.observer.RequestCompleted(method, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *Session) roundTrip(ctx context.Context, id int64, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.InvalidParams(method, err)
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, mcperrors.InvalidParams(method, err)
	}

	p, err := s.pending.add(id, method)
	if err != nil {
		return nil, err
	}
	s.pendingChanged()
	defer s.pendingChanged()

	if err := s.transport.Send(ctx, frame); err != nil {
		s.pending.resolve(id, outcome{err: err})
		o := <-p.done
		return nil, o.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-p.done:
		return o.result, o.err
	case <-timer.C:
		if s.pending.resolve(id, outcome{err: mcperrors.RequestTimeoutError(method, timeout)}) {
			s.logger.Warn("request timed out", logging.String("method", method), logging.Int64("id", id), logging.Duration("timeout", timeout))
			s.cancelRemote(id, "request timed out")
		}
	case <-ctx.Done():
		if s.pending.resolve(id, outcome{err: mcperrors.OperationCancelled(method, ctx.Err())}) {
			s.cancelRemote(id, ctx.Err().Error())
		}
	}
	o := <-p.done
	return o.result, o.err
}

// notify sends a notification frame.
func (s *Session) notify(ctx context.Context, method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.InvalidParams(method, err)
	}
	frame, err := json.Marshal(n)
	if err != nil {
		return mcperrors.InvalidParams(method, err)
	}
	return s.transport.Send(ctx, frame)
}

// cancelRemote tells the server a request was abandoned. Failures only
// get logged; the transport stays open either way.
func (s *Session) cancelRemote(id int64, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.notify(ctx, protocol.NotificationCancelled, protocol.CancelledParams{RequestID: id, Reason: reason})
	if err != nil {
		s.logger.Debug("cancel notification not sent", logging.Int64("id", id), logging.ErrorField(err))
	}
}

func (s *Session) pendingChanged() {
	if s.observer != nil {
		s.observer.PendingChanged(s.pending.len())
	}
}

// dispatch consumes inbound frames in receipt order until the sequence
// ends, then rejects whatever is still pending.
func (s *Session) dispatch(frames <-chan transport.Frame) {
	defer close(s.loopDone)

	var end *transport.Termination
	for f := range frames {
		if f.Terminal() {
			end = f.End
			break
		}
		s.handleFrame(f.Data)
	}
	s.finish(end)
}

func (s *Session) handleFrame(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", logging.Int("bytes", len(data)), logging.ErrorField(err))
		return
	}

	switch msg.Kind() {
	case protocol.KindResponse:
		id, ok := msg.NumericID()
		if !ok {
			s.logger.Warn("dropping response with non-numeric id", logging.String("id", string(msg.ID)))
			return
		}
		p := s.pending.take(id)
		if p == nil {
			s.logger.Debug("dropping response for unknown request", logging.Int64("id", id))
			return
		}
		if msg.Error != nil {
			p.done <- outcome{err: mcperrors.RemoteError(p.method, msg.Error.Code, msg.Error.Message, msg.Error.Data)}
			return
		}
		p.done <- outcome{result: msg.Result}

	case protocol.KindRequest:
		go s.answer(msg)

	case protocol.KindNotification:
		s.logger.Debug("notification", logging.String("method", msg.Method))
		if h := s.onNotification; h != nil {
			go h(msg.Method, msg.Params)
		}

	default:
		s.logger.Warn("dropping invalid frame", logging.Int("bytes", len(data)))
	}
}

// answer replies to a server-initiated request. Only ping is supported.
func (s *Session) answer(msg *protocol.Message) {
	var resp *protocol.Response
	if msg.Method == protocol.MethodPing {
		resp, _ = protocol.NewResponse(msg.ID, struct{}{})
	} else {
		resp = protocol.NewErrorResponse(msg.ID, protocol.MethodNotFound, "method not supported by client: "+msg.Method)
	}
	frame, err := json.Marshal(resp)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, frame); err != nil {
		s.logger.Debug("reply to server request failed", logging.String("method", msg.Method), logging.ErrorField(err))
	}
}

// finish moves the session to closed. end is nil when the frame sequence
// closed without a terminal frame, which happens when the transport itself
// was closed.
func (s *Session) finish(end *transport.Termination) {
	s.finishOnce.Do(func() {
		var cause error
		if end != nil {
			cause = end.Cause()
		} else {
			cause = mcperrors.ClosedTransportError("session", "read")
		}
		err := mcperrors.SessionClosedError(cause).WithContext(&mcperrors.Context{
			ServerID:  s.serverID,
			Component: "session",
			Operation: "dispatch",
		})

		s.mu.Lock()
		s.closeErr = err
		s.mu.Unlock()

		rejected := s.pending.closeAll(err)
		s.pendingChanged()
		unexpected := !s.closing.Load()
		if unexpected {
			s.logger.Warn("session ended", logging.Int("rejected", rejected), logging.ErrorField(cause))
		} else {
			s.logger.Debug("session closed", logging.Int("rejected", rejected))
		}
		close(s.done)

		if unexpected && s.onClose != nil {
			s.onClose(err)
		}
	})
}

// Close closes the transport and rejects every outstanding request with a
// SessionClosedError. It is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.transport.Close()

		s.mu.RLock()
		started := s.started
		s.mu.RUnlock()
		if started {
			<-s.loopDone
		} else {
			s.finish(nil)
		}
	})
	return err
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the SessionClosedError the session ended with, or nil while
// it is live.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeErr
}

// Pending returns the number of requests awaiting a response.
func (s *Session) Pending() int {
	return s.pending.len()
}

// ServerInfo returns what the server announced during the handshake.
func (s *Session) ServerInfo() protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.init.ServerInfo
}

// Capabilities returns the server's announced capabilities.
func (s *Session) Capabilities() protocol.ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.init.Capabilities
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.init.ProtocolVersion
}

// ready fails unless the session is initialized and still live.
func (s *Session) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	if !s.initialized {
		return mcperrors.ProtocolError("session is not initialized", nil)
	}
	return nil
}
