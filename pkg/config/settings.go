package config

import (
	"context"
	"errors"
	"time"

	"github.com/joeshaw/envdecode"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
)

// Settings are the process-wide knobs, read from the environment. Command
// line flags override them.
type Settings struct {
	HandshakeTimeout time.Duration `env:"MCP_HANDSHAKE_TIMEOUT,default=10s"`
	RequestTimeout   time.Duration `env:"MCP_REQUEST_TIMEOUT,default=30s"`

	ReconnectMaxRetries int           `env:"MCP_RECONNECT_MAX_RETRIES,default=3"`
	ReconnectBaseDelay  time.Duration `env:"MCP_RECONNECT_BASE_DELAY,default=2s"`
	ReconnectMultiplier float64       `env:"MCP_RECONNECT_MULTIPLIER,default=2"`
	AutoReconnect       bool          `env:"MCP_AUTO_RECONNECT,default=true"`

	// Store selection, first match wins: Redis, then SQLite, then file.
	ConfigPath string `env:"MCP_CONFIG_PATH,default=mcp-servers.json"`
	RedisURL   string `env:"MCP_REDIS_URL"`
	RedisKey   string `env:"MCP_REDIS_KEY,default=mcp-toolhub:servers"`
	SQLitePath string `env:"MCP_SQLITE_PATH"`

	ListenAddr string `env:"MCP_LISTEN_ADDR,default=127.0.0.1:8090"`
	LogLevel   string `env:"MCP_LOG_LEVEL,default=info"`
	LogFormat  string `env:"MCP_LOG_FORMAT,default=text"`

	MetricsEnabled  bool   `env:"MCP_METRICS_ENABLED,default=true"`
	TracingExporter string `env:"MCP_TRACING_EXPORTER,default=none"`
	TracingEndpoint string `env:"MCP_TRACING_ENDPOINT"`
}

// LoadSettings decodes Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return s, mcperrors.InvalidConfigError("", "environment", err.Error())
	}
	return s, s.Validate()
}

// Validate rejects values no component can work with.
func (s Settings) Validate() error {
	switch {
	case s.HandshakeTimeout <= 0:
		return mcperrors.InvalidConfigError("", "MCP_HANDSHAKE_TIMEOUT", "must be positive")
	case s.RequestTimeout <= 0:
		return mcperrors.InvalidConfigError("", "MCP_REQUEST_TIMEOUT", "must be positive")
	case s.ReconnectMaxRetries < 0:
		return mcperrors.InvalidConfigError("", "MCP_RECONNECT_MAX_RETRIES", "must not be negative")
	case s.ReconnectBaseDelay <= 0:
		return mcperrors.InvalidConfigError("", "MCP_RECONNECT_BASE_DELAY", "must be positive")
	case s.ReconnectMultiplier < 1:
		return mcperrors.InvalidConfigError("", "MCP_RECONNECT_MULTIPLIER", "must be at least 1")
	}
	switch s.TracingExporter {
	case "", "none", "otlp-grpc", "otlp-http":
	default:
		return mcperrors.InvalidConfigError("", "MCP_TRACING_EXPORTER", "must be none, otlp-grpc or otlp-http")
	}
	return nil
}

// StoreCloser is a Store that holds a connection to release.
type StoreCloser interface {
	Store
	Close() error
}

type nopCloser struct{ Store }

func (nopCloser) Close() error { return nil }

// OpenStore builds the store the settings select.
func (s Settings) OpenStore(ctx context.Context) (StoreCloser, error) {
	switch {
	case s.RedisURL != "":
		return OpenRedisStore(ctx, s.RedisURL, s.RedisKey)
	case s.SQLitePath != "":
		return OpenSQLiteStore(s.SQLitePath)
	default:
		return nopCloser{NewFileStore(s.ConfigPath)}, nil
	}
}
