// Command mcp-toolhub manages connections to MCP tool servers. It serves an
// HTTP control plane, edits the configured server list and makes one-off
// tool calls.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	toolhub "github.com/ajitpratap0/mcp-toolhub"
	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/reconnect"
	"github.com/ajitpratap0/mcp-toolhub/pkg/registry"
)

var version = toolhub.Version

var settings = loadSettings()

func loadSettings() config.Settings {
	s, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return s
}

var rootCmd = &cobra.Command{
	Use:           "mcp-toolhub",
	Short:         "Connection manager for MCP tool servers",
	Long:          `mcp-toolhub keeps a list of MCP tool servers, connects to them over stdio or HTTP, and exposes their tools through an HTTP control plane.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "server list file (.json, .yaml)")
	flags.StringVar(&settings.RedisURL, "redis-url", settings.RedisURL, "keep the server list in Redis instead of a file")
	flags.StringVar(&settings.SQLitePath, "sqlite", settings.SQLitePath, "keep the server list in a SQLite database instead of a file")
	flags.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")
	flags.StringVar(&settings.LogFormat, "log-format", settings.LogFormat, "text or json")
	flags.DurationVar(&settings.HandshakeTimeout, "handshake-timeout", settings.HandshakeTimeout, "initialize timeout per server")
	flags.DurationVar(&settings.RequestTimeout, "request-timeout", settings.RequestTimeout, "timeout per request")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(callCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(settings.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, logging.NewFormatter(settings.LogFormat))
	logger.SetLevel(level)
	return logger, nil
}

func reconnectPolicy() reconnect.Policy {
	return reconnect.Policy{
		MaxRetries: settings.ReconnectMaxRetries,
		BaseDelay:  settings.ReconnectBaseDelay,
		Multiplier: settings.ReconnectMultiplier,
	}
}

// registryOptions are the options every command builds its registry with.
func registryOptions(store config.Store, logger logging.Logger) []registry.Option {
	return []registry.Option{
		registry.WithStore(store),
		registry.WithLogger(logger),
		registry.WithHandshakeTimeout(settings.HandshakeTimeout),
		registry.WithRequestTimeout(settings.RequestTimeout),
		registry.WithReconnectPolicy(reconnectPolicy()),
		registry.WithAutoReconnect(settings.AutoReconnect),
	}
}
