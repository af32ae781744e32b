// Package registry keeps the table of configured tool servers and their
// live sessions. It is the one place connection state changes: connect,
// disconnect, add, remove and unexpected session ends all go through it.
//
// Operations on the same server id are serialized; operations on different
// ids run in parallel. Failures of a connect attempt become an error status
// on the server and, unless disabled, are handed to the reconnect
// supervisor, which owns every retry.
package registry

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/observability"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/reconnect"
	"github.com/ajitpratap0/mcp-toolhub/pkg/session"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// Status is the connection state of a server.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ServerConnection is a read-only snapshot of one server.
type ServerConnection struct {
	Config    config.ServerConfig `json:"config"`
	Status    Status              `json:"status"`
	Tools     []protocol.Tool     `json:"tools"`
	Resources []protocol.Resource `json:"resources"`
	LastError string              `json:"lastError,omitempty"`
	// RetryCount is the number of failed automatic attempts since the
	// last success.
	RetryCount int              `json:"retryCount"`
	Reconnect  reconnect.Status `json:"reconnect"`

	ServerInfo      *protocol.Implementation `json:"serverInfo,omitempty"`
	ProtocolVersion string                   `json:"protocolVersion,omitempty"`
	ConnectedAt     *time.Time               `json:"connectedAt,omitempty"`
}

// ServerTool is a tool together with the server offering it.
type ServerTool struct {
	ServerID string        `json:"serverId"`
	Tool     protocol.Tool `json:"tool"`
}

// ServerResource is a resource together with the server offering it.
type ServerResource struct {
	ServerID string            `json:"serverId"`
	Resource protocol.Resource `json:"resource"`
}

type entry struct {
	id string
	// op serializes connect, disconnect, overwrite and removal of this
	// server. It is always taken before Registry.mu.
	op sync.Mutex

	// Fields below are guarded by Registry.mu.
	cfg         config.ServerConfig
	status      Status
	session     *session.Session
	tools       []protocol.Tool
	resources   []protocol.Resource
	lastError   string
	connectedAt time.Time
	removed     bool
}

// Registry is the process-wide table of servers. Construct one with New
// and share it.
type Registry struct {
	store          config.Store
	logger         logging.Logger
	metrics        *observability.Metrics
	tracer         trace.Tracer
	factory        TransportFactory
	middleware     []transport.Middleware
	policy         reconnect.Policy
	autoReconnect  bool
	requestTimeout time.Duration
	sessionOpts    []session.Option
	supervisor     *reconnect.Supervisor

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	closed  bool

	loads  singleflight.Group
	saveMu sync.Mutex
}

// New creates an empty registry. Call LoadFromConfig to read the store.
func New(opts ...Option) *Registry {
	r := &Registry{
		store:          config.NewMemoryStore(),
		logger:         logging.Nop(),
		tracer:         noop.NewTracerProvider().Tracer(""),
		factory:        DefaultTransportFactory,
		policy:         reconnect.DefaultPolicy(),
		autoReconnect:  true,
		requestTimeout: session.DefaultRequestTimeout,
		entries:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields(logging.Component("registry"))
	r.supervisor = reconnect.New(r.policy, r.reconnect,
		reconnect.WithLogger(r.logger),
		reconnect.WithObserver(r.metrics))
	return r
}

// Store returns the config store.
func (r *Registry) Store() config.Store {
	return r.store
}

// lookup returns the entry for id.
func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, mcperrors.RegistryClosed()
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, mcperrors.ServerNotFound(id)
	}
	return e, nil
}

// snapshotLocked copies e. r.mu must be held.
func (r *Registry) snapshotLocked(e *entry) ServerConnection {
	rs := r.supervisor.State(e.id)
	sc := ServerConnection{
		Config:     e.cfg.Clone(),
		Status:     e.status,
		Tools:      append([]protocol.Tool{}, e.tools...),
		Resources:  append([]protocol.Resource{}, e.resources...),
		LastError:  e.lastError,
		RetryCount: rs.Attempt,
		Reconnect:  rs,
	}
	if e.session != nil && e.status == StatusConnected {
		info := e.session.ServerInfo()
		sc.ServerInfo = &info
		sc.ProtocolVersion = e.session.ProtocolVersion()
		at := e.connectedAt
		sc.ConnectedAt = &at
	}
	return sc
}

// GetAllServers returns snapshots of every server in registration order.
// It never performs I/O.
func (r *Registry) GetAllServers() []ServerConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerConnection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.snapshotLocked(r.entries[id]))
	}
	return out
}

// GetServer returns a snapshot of one server. It never performs I/O.
func (r *Registry) GetServer(id string) (ServerConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return ServerConnection{}, mcperrors.ServerNotFound(id)
	}
	return r.snapshotLocked(e), nil
}

// AllTools returns the tools of every connected server, in registration
// order.
func (r *Registry) AllTools() []ServerTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []ServerTool{}
	for _, id := range r.order {
		e := r.entries[id]
		if e.status != StatusConnected {
			continue
		}
		for _, t := range e.tools {
			out = append(out, ServerTool{ServerID: id, Tool: t})
		}
	}
	return out
}

// AllResources returns the resources of every connected server, in
// registration order.
func (r *Registry) AllResources() []ServerResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []ServerResource{}
	for _, id := range r.order {
		e := r.entries[id]
		if e.status != StatusConnected {
			continue
		}
		for _, res := range e.resources {
			out = append(out, ServerResource{ServerID: id, Resource: res})
		}
	}
	return out
}

// setStatusLocked records a status change. r.mu must be held.
func (r *Registry) setStatusLocked(e *entry, status Status) {
	e.status = status
	r.metrics.SetStatus(e.id, string(status))
}

// Close stops every scheduled reconnect and closes every session. The
// registry rejects further operations.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()

	r.supervisor.Stop()
	for _, id := range ids {
		r.mu.RLock()
		e := r.entries[id]
		r.mu.RUnlock()
		if e != nil {
			r.disconnect(e)
		}
	}
	r.logger.Info("registry closed", logging.Int("servers", len(ids)))
	return nil
}
