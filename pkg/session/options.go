package session

import (
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
)

const (
	// DefaultHandshakeTimeout bounds Initialize.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds every other request.
	DefaultRequestTimeout = 30 * time.Second
)

// RequestObserver is told about every completed request and every change
// in the number of outstanding requests.
type RequestObserver interface {
	RequestCompleted(method string, took time.Duration, err error)
	PendingChanged(n int)
}

// NotificationHandler receives server notifications. It runs on its own
// goroutine, so it may issue requests on the session.
type NotificationHandler func(method string, params json.RawMessage)

// CloseHandler is called once when the session ends without Close being
// called, with the SessionClosedError pending requests were rejected with.
type CloseHandler func(err error)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerID labels logs and spans with the server id.
func WithServerID(id string) Option {
	return func(s *Session) {
		s.serverID = id
	}
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithClientInfo sets the implementation announced during the handshake.
func WithClientInfo(name, version string) Option {
	return func(s *Session) {
		s.clientInfo.Name = name
		s.clientInfo.Version = version
	}
}

// WithTracer records a client span per request.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithObserver reports request metrics.
func WithObserver(observer RequestObserver) Option {
	return func(s *Session) {
		s.observer = observer
	}
}

// WithNotificationHandler sets the handler for server notifications.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(s *Session) {
		s.onNotification = h
	}
}

// WithCloseHandler sets the handler for unexpected session ends.
func WithCloseHandler(h CloseHandler) Option {
	return func(s *Session) {
		s.onClose = h
	}
}
