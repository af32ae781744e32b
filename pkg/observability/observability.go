package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Config selects which signals are produced.
type Config struct {
	EnableMetrics bool
	MetricsConfig MetricsConfig

	EnableTracing bool
	TracingConfig TracingConfig
}

// Observability bundles the metrics and tracing providers handed to the
// registry. Either field may be nil when its signal is disabled; both are
// safe to use nil.
type Observability struct {
	Metrics *Metrics
	Tracing *TracingProvider
}

// New builds the enabled providers.
func New(ctx context.Context, config Config) (*Observability, error) {
	o := &Observability{}
	if config.EnableMetrics {
		m, err := NewMetrics(config.MetricsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		o.Metrics = m
	}
	if config.EnableTracing {
		tp, err := NewTracingProvider(ctx, config.TracingConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracing provider: %w", err)
		}
		o.Tracing = tp
	}
	return o, nil
}

// Tracer returns the configured tracer or a no-op one.
func (o *Observability) Tracer() trace.Tracer {
	if o == nil {
		return (*TracingProvider)(nil).Tracer()
	}
	return o.Tracing.Tracer()
}

// Shutdown flushes and stops the tracing exporter.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return o.Tracing.Shutdown(ctx)
}
