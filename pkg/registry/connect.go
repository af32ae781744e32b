package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/session"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// ConnectOption adjusts a single ConnectServer call.
type ConnectOption func(*connectCall)

type connectCall struct {
	retry bool
}

// WithoutRetry keeps a failed connect from being handed to the reconnect
// supervisor.
func WithoutRetry() ConnectOption {
	return func(c *connectCall) { c.retry = false }
}

// ConnectServer opens a session to the server and runs discovery. It
// returns immediately if the server is already connected. It makes exactly
// one attempt; on failure the server moves to the error status, the error
// is returned, and the reconnect supervisor takes over retrying when auto
// reconnect is enabled.
func (r *Registry) ConnectServer(ctx context.Context, id string, opts ...ConnectOption) error {
	call := connectCall{retry: r.autoReconnect}
	for _, opt := range opts {
		opt(&call)
	}
	return r.connect(ctx, id, true, call.retry)
}

// reconnect is the supervisor's connect function. Its failures are not
// handed back to the supervisor, which counts and reschedules them itself.
func (r *Registry) reconnect(ctx context.Context, id string) error {
	return r.connect(ctx, id, false, false)
}

func (r *Registry) connect(ctx context.Context, id string, manual, retry bool) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if manual {
		// An explicit connect starts a fresh retry cycle and supersedes any
		// attempt the supervisor has scheduled.
		r.supervisor.Reset(id)
	}

	e.op.Lock()
	defer e.op.Unlock()

	// A supervisor attempt cancelled while waiting for the lock must not
	// touch the server.
	if err := ctx.Err(); err != nil {
		return mcperrors.OperationCancelled("connect", err)
	}

	r.mu.Lock()
	if e.removed || r.closed {
		r.mu.Unlock()
		if r.closed {
			return mcperrors.RegistryClosed()
		}
		return mcperrors.ServerNotFound(id)
	}
	if e.status == StatusConnected {
		r.mu.Unlock()
		return nil
	}
	r.setStatusLocked(e, StatusConnecting)
	cfg := e.cfg.Clone()
	r.mu.Unlock()

	r.logger.Info("connecting", logging.ServerID(id), logging.String("transport", string(cfg.Kind())),
		logging.Bool("automatic", !manual))

	sess, tools, resources, err := r.establish(ctx, cfg)
	r.metrics.ConnectAttempt(id, err)

	if err == nil {
		select {
		case <-sess.Done():
			err = sess.Err()
		default:
		}
	}

	r.mu.Lock()
	if err == nil && !errors.Is(ctx.Err(), context.Canceled) && !r.closed {
		e.session = sess
		e.tools = tools
		e.resources = resources
		e.lastError = ""
		e.connectedAt = time.Now()
		r.setStatusLocked(e, StatusConnected)
		r.mu.Unlock()

		if manual {
			r.supervisor.Reset(id)
		}
		r.logger.Info("connected", logging.ServerID(id),
			logging.Int("tools", len(tools)), logging.Int("resources", len(resources)))
		return nil
	}

	if sess != nil {
		_ = sess.Close()
	}
	if err == nil || errors.Is(ctx.Err(), context.Canceled) {
		// Abandoned by Disconnect, Remove, Close or the caller.
		r.setStatusLocked(e, StatusDisconnected)
		r.mu.Unlock()
		if cause := ctx.Err(); cause != nil {
			return mcperrors.OperationCancelled("connect", cause)
		}
		return mcperrors.RegistryClosed()
	}

	e.lastError = err.Error()
	r.setStatusLocked(e, StatusError)
	r.mu.Unlock()

	r.logger.Warn("connect failed", logging.ServerID(id), logging.ErrorField(err))
	if retry {
		r.supervisor.Failed(id)
	}
	return err
}

// establish builds and opens the transport, runs the handshake and the
// initial discovery. On error the session, if any, is already closed.
func (r *Registry) establish(ctx context.Context, cfg config.ServerConfig) (sess *session.Session, tools []protocol.Tool, resources []protocol.Resource, err error) {
	id := cfg.ID
	ctx, span := r.tracer.Start(ctx, "registry.connect", trace.WithAttributes(
		attribute.String("mcp.server_id", id),
		attribute.String("mcp.transport", string(cfg.Kind())),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := r.logger.WithFields(logging.ServerID(id))
	raw, err := r.factory(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	middleware := append([]transport.Middleware{transport.ObservabilityMiddleware(r.metrics.Frames(id))}, r.middleware...)
	t := transport.Chain(raw, middleware...)

	if err := t.Open(ctx); err != nil {
		_ = t.Close()
		return nil, nil, nil, err
	}

	// The handlers compare against the session itself to tell a live
	// session from a replaced one. Neither runs before Initialize starts
	// the dispatch loop.
	var live *session.Session
	opts := append([]session.Option{
		session.WithLogger(r.logger),
		session.WithServerID(id),
		session.WithTracer(r.tracer),
		session.WithObserver(r.metrics.Requests(id)),
		session.WithNotificationHandler(func(method string, _ json.RawMessage) {
			switch method {
			case protocol.NotificationToolsListChanged, protocol.NotificationResourcesListChanged:
				r.rediscover(id, live, method)
			}
		}),
		session.WithCloseHandler(func(err error) { go r.sessionClosed(id, live, err) }),
	}, r.sessionOpts...)
	sess = session.New(t, opts...)
	live = sess

	if _, err := sess.Initialize(ctx); err != nil {
		_ = sess.Close()
		return nil, nil, nil, err
	}
	if tools, err = sess.ListTools(ctx); err != nil {
		_ = sess.Close()
		return nil, nil, nil, err
	}
	if resources, err = sess.ListResources(ctx); err != nil {
		_ = sess.Close()
		return nil, nil, nil, err
	}
	return sess, tools, resources, nil
}

func (r *Registry) rediscover(id string, sess *session.Session, method string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.requestTimeout)
	defer cancel()

	var (
		tools     []protocol.Tool
		resources []protocol.Resource
		err       error
	)
	if method == protocol.NotificationToolsListChanged {
		tools, err = sess.ListTools(ctx)
	} else {
		resources, err = sess.ListResources(ctx)
	}
	if err != nil {
		r.logger.Warn("rediscovery failed", logging.ServerID(id), logging.String("trigger", method), logging.ErrorField(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.session != sess {
		return
	}
	if tools != nil {
		e.tools = tools
	}
	if resources != nil {
		e.resources = resources
	}
	r.logger.Info("capabilities refreshed", logging.ServerID(id), logging.String("trigger", method),
		logging.Int("tools", len(e.tools)), logging.Int("resources", len(e.resources)))
}

// sessionClosed handles a session that ended without Close: the server
// moves to the error status and the supervisor is told.
func (r *Registry) sessionClosed(id string, sess *session.Session, cause error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.op.Lock()
	defer e.op.Unlock()

	r.mu.Lock()
	if e.session != sess || r.closed {
		r.mu.Unlock()
		return
	}
	e.session = nil
	e.lastError = cause.Error()
	r.setStatusLocked(e, StatusError)
	r.mu.Unlock()

	r.logger.Warn("session ended unexpectedly", logging.ServerID(id), logging.ErrorField(cause))
	if r.autoReconnect {
		r.supervisor.Failed(id)
	}
}

// DisconnectServer cancels any scheduled reconnect, closes the session if
// there is one and leaves the server disconnected. Disconnecting a server
// that is not connected succeeds.
func (r *Registry) DisconnectServer(ctx context.Context, id string) error {
	r.supervisor.Cancel(id)
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	r.disconnect(e)
	return nil
}

// disconnect closes e's session under its op lock.
func (r *Registry) disconnect(e *entry) {
	e.op.Lock()
	defer e.op.Unlock()
	r.disconnectLocked(e)
}

// disconnectLocked requires e.op. The supervisor is cancelled again here
// because a session that died while we waited for the lock may have
// scheduled a retry.
func (r *Registry) disconnectLocked(e *entry) {
	r.supervisor.Cancel(e.id)

	r.mu.Lock()
	sess := e.session
	e.session = nil
	e.tools = nil
	e.resources = nil
	e.lastError = ""
	wasConnected := e.status == StatusConnected
	r.setStatusLocked(e, StatusDisconnected)
	r.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if wasConnected {
		r.logger.Info("disconnected", logging.ServerID(e.id))
	}
}

// ConnectAll connects every server that is not connected yet, in
// parallel. It returns the failures joined together.
func (r *Registry) ConnectAll(ctx context.Context) error {
	return r.forEach(ctx, func(ctx context.Context, id string) error {
		return r.ConnectServer(ctx, id)
	})
}
