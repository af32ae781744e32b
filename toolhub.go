package toolhub

import (
	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	"github.com/ajitpratap0/mcp-toolhub/pkg/controlplane"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/registry"
)

// Version is the release of the hub.
const Version = "0.1.0"

// ProtocolRevision is the MCP revision the hub requests from servers.
const ProtocolRevision = protocol.ProtocolRevision

// These exports cover the common path: build a registry from a store and
// serve it.
var (
	// NewRegistry creates the server table.
	NewRegistry = registry.New

	// NewControlPlane serves a registry over HTTP.
	NewControlPlane = controlplane.New

	// NewFileStore keeps the server list in a JSON or YAML file.
	NewFileStore = config.NewFileStore

	// NewMemoryStore keeps the server list in memory.
	NewMemoryStore = config.NewMemoryStore

	// LoadSettings reads process settings from the environment.
	LoadSettings = config.LoadSettings
)

// Registry options
var (
	WithStore            = registry.WithStore
	WithLogger           = registry.WithLogger
	WithMetrics          = registry.WithMetrics
	WithTracer           = registry.WithTracer
	WithReconnectPolicy  = registry.WithReconnectPolicy
	WithAutoReconnect    = registry.WithAutoReconnect
	WithHandshakeTimeout = registry.WithHandshakeTimeout
	WithRequestTimeout   = registry.WithRequestTimeout
)
