package registry

import (
	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// TransportFactory builds an unopened transport for a server.
type TransportFactory func(cfg config.ServerConfig, logger logging.Logger) (transport.Transport, error)

// DefaultTransportFactory spawns stdio servers and dials HTTP ones.
func DefaultTransportFactory(cfg config.ServerConfig, logger logging.Logger) (transport.Transport, error) {
	switch spec := cfg.Spec.(type) {
	case config.StdioSpec:
		return transport.NewStdioTransport(transport.StdioConfig{
			Command: spec.Command,
			Args:    spec.Args,
			Env:     spec.Env,
			Logger:  logger,
		}), nil
	case config.HTTPSpec:
		t, err := transport.NewSSETransport(transport.HTTPConfig{
			URL:    spec.URL,
			APIKey: spec.APIKey,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, mcperrors.InvalidConfigError(cfg.ID, "transportKind", "is not supported")
	}
}
