package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	"github.com/ajitpratap0/mcp-toolhub/pkg/controlplane"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/observability"
	"github.com/ajitpratap0/mcp-toolhub/pkg/registry"
)

var (
	connectAll     bool
	watchConfig    bool
	allowedOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control plane",
	Long: `Loads the server list, serves the control plane and /metrics, and keeps
the registry in sync with the server list file while running.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&settings.ListenAddr, "listen", settings.ListenAddr, "control plane listen address")
	flags.BoolVar(&connectAll, "connect-all", false, "connect every configured server on startup")
	flags.BoolVar(&watchConfig, "watch", true, "reload the server list file when it changes")
	flags.BoolVar(&settings.MetricsEnabled, "metrics", settings.MetricsEnabled, "serve Prometheus metrics on /metrics")
	flags.StringVar(&settings.TracingExporter, "tracing", settings.TracingExporter, "trace exporter: none, otlp-grpc or otlp-http")
	flags.StringVar(&settings.TracingEndpoint, "tracing-endpoint", settings.TracingEndpoint, "OTLP endpoint, host:port")
	flags.StringSliceVar(&allowedOrigins, "allow-origin", nil, "browser origins allowed to call the API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.Config{
		EnableMetrics: settings.MetricsEnabled,
		EnableTracing: settings.TracingExporter != "" && settings.TracingExporter != string(observability.ExporterTypeNone),
		TracingConfig: observability.TracingConfig{
			ServiceName:    "mcp-toolhub",
			ServiceVersion: version,
			ExporterType:   observability.ExporterType(settings.TracingExporter),
			Endpoint:       settings.TracingEndpoint,
			Insecure:       true,
			SetGlobal:      true,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			logger.Warn("observability shutdown failed", logging.ErrorField(err))
		}
	}()

	store, err := settings.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := append(registryOptions(store, logger),
		registry.WithMetrics(obs.Metrics),
		registry.WithTracer(obs.Tracer()),
	)
	reg := registry.New(opts...)
	defer reg.Close()

	if err := reg.LoadFromConfig(ctx); err != nil {
		return err
	}
	logger.Info("server list loaded", logging.Int("servers", len(reg.GetAllServers())))

	if watchConfig && settings.RedisURL == "" && settings.SQLitePath == "" {
		w := config.NewWatcher(settings.ConfigPath, config.DefaultDebounce, func(ctx context.Context) {
			if err := reg.LoadFromConfig(ctx); err != nil {
				logger.Warn("reloading server list failed", logging.ErrorField(err))
			}
		}, logger)
		if err := w.Start(ctx); err != nil {
			logger.Warn("not watching server list", logging.String("path", settings.ConfigPath), logging.ErrorField(err))
		} else {
			defer w.Stop()
		}
	}

	if connectAll {
		go func() {
			if err := reg.ConnectAll(ctx); err != nil {
				logger.Warn("some servers failed to connect", logging.ErrorField(err))
			}
		}()
	}

	srvOpts := []controlplane.Option{controlplane.WithLogger(logger)}
	if obs.Metrics != nil {
		srvOpts = append(srvOpts, controlplane.WithMetricsHandler(obs.Metrics.Handler()))
	}
	if len(allowedOrigins) > 0 {
		srvOpts = append(srvOpts, controlplane.WithAllowedOrigins(allowedOrigins...))
	}
	return controlplane.New(reg, srvOpts...).Run(ctx, settings.ListenAddr)
}
