package registry

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/observability"
	"github.com/ajitpratap0/mcp-toolhub/pkg/reconnect"
	"github.com/ajitpratap0/mcp-toolhub/pkg/session"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// Option configures a Registry.
type Option func(*Registry)

// WithStore sets where the server list is loaded from and saved to. The
// default is an empty MemoryStore.
func WithStore(store config.Store) Option {
	return func(r *Registry) {
		if store != nil {
			r.store = store
		}
	}
}

// WithLogger sets the logger for the registry and every session it opens.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records connection, request and frame metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithTracer traces connect attempts and session requests.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithTransportFactory replaces how transports are built from configs.
func WithTransportFactory(f TransportFactory) Option {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithMiddleware wraps every transport the registry opens. The first
// middleware is the outermost.
func WithMiddleware(middleware ...transport.Middleware) Option {
	return func(r *Registry) {
		r.middleware = append(r.middleware, middleware...)
	}
}

// WithReconnectPolicy sets the backoff used after connection failures.
func WithReconnectPolicy(p reconnect.Policy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithAutoReconnect controls whether failures are handed to the reconnect
// supervisor. It is on by default.
func WithAutoReconnect(enabled bool) Option {
	return func(r *Registry) {
		r.autoReconnect = enabled
	}
}

// WithHandshakeTimeout bounds the initialize exchange of each session.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.sessionOpts = append(r.sessionOpts, session.WithHandshakeTimeout(d))
	}
}

// WithRequestTimeout bounds each request of each session.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.requestTimeout = d
		r.sessionOpts = append(r.sessionOpts, session.WithRequestTimeout(d))
	}
}
