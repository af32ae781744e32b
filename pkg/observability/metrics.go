package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/mcp-toolhub/pkg/reconnect"
	"github.com/ajitpratap0/mcp-toolhub/pkg/session"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace prefixes every metric name (default: mcp_toolhub).
	Namespace string
	// HistogramBuckets are request latency buckets in seconds.
	HistogramBuckets []float64
	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels
	// Registry receives the collectors. A private registry is created when
	// nil, so several hubs can live in one process.
	Registry *prometheus.Registry
}

// Statuses are the connection states reported by the status gauge.
var Statuses = []string{"disconnected", "connecting", "connected", "error"}

// Metrics records connection lifecycle, request and frame metrics per
// server. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectionStatus   *prometheus.GaugeVec
	connectAttempts    *prometheus.CounterVec
	reconnectScheduled *prometheus.CounterVec
	reconnectExhausted *prometheus.CounterVec
	reconnected        *prometheus.CounterVec

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	pendingRequests *prometheus.GaugeVec
	toolCalls       *prometheus.CounterVec

	framesTotal *prometheus.CounterVec
	frameBytes  *prometheus.CounterVec
	streamEnds  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp_toolhub"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	m := &Metrics{
		registry:           config.Registry,
		connectionStatus:   gauge("server_status", "1 for the current connection status of each server, 0 otherwise", "server", "status"),
		connectAttempts:    counter("connect_attempts_total", "Connection attempts by result", "server", "result"),
		reconnectScheduled: counter("reconnect_scheduled_total", "Automatic reconnection attempts scheduled", "server"),
		reconnectExhausted: counter("reconnect_exhausted_total", "Times the retry budget of a server was spent", "server"),
		reconnected:        counter("reconnect_success_total", "Automatic reconnections that succeeded", "server"),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "request_duration_seconds",
			Help:        "Duration of requests sent to tool servers",
			Buckets:     config.HistogramBuckets,
			ConstLabels: config.ConstLabels,
		}, []string{"server", "method", "status"}),
		requestTotal:    counter("requests_total", "Requests sent to tool servers", "server", "method", "status"),
		pendingRequests: gauge("pending_requests", "Requests awaiting a response", "server"),
		toolCalls:       counter("tool_calls_total", "Tool invocations by outcome", "server", "tool", "outcome"),
		framesTotal:     counter("frames_total", "Protocol frames by direction", "server", "direction", "status"),
		frameBytes:      counter("frame_bytes_total", "Protocol frame bytes by direction", "server", "direction"),
		streamEnds:      counter("stream_ends_total", "Inbound frame sequences that ended, by reason", "server", "reason"),
	}

	collectors := []prometheus.Collector{
		m.connectionStatus, m.connectAttempts, m.reconnectScheduled, m.reconnectExhausted, m.reconnected,
		m.requestDuration, m.requestTotal, m.pendingRequests, m.toolCalls,
		m.framesTotal, m.frameBytes, m.streamEnds,
	}
	for _, c := range collectors {
		if err := config.Registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetStatus marks status as the current one for server.
func (m *Metrics) SetStatus(server, status string) {
	if m == nil {
		return
	}
	for _, s := range Statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.connectionStatus.WithLabelValues(server, s).Set(v)
	}
}

// ConnectAttempt counts one connection attempt.
func (m *Metrics) ConnectAttempt(server string, err error) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(server, resultLabel(err)).Inc()
}

// ToolCall counts one tool invocation. A tool that ran and reported
// failure is "tool_error"; a call that never completed is "error".
func (m *Metrics) ToolCall(server, tool string, isError bool, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case isError:
		outcome = "tool_error"
	}
	m.toolCalls.WithLabelValues(server, tool, outcome).Inc()
}

// Forget drops every series of a removed server.
func (m *Metrics) Forget(server string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"server": server}
	for _, vec := range []interface{ DeletePartialMatch(prometheus.Labels) int }{
		m.connectionStatus, m.connectAttempts, m.reconnectScheduled, m.reconnectExhausted, m.reconnected,
		m.requestDuration, m.requestTotal, m.pendingRequests, m.toolCalls,
		m.framesTotal, m.frameBytes, m.streamEnds,
	} {
		vec.DeletePartialMatch(labels)
	}
}

// RetryScheduled implements reconnect.Observer.
func (m *Metrics) RetryScheduled(server string, attempt int, delay time.Duration) {
	if m == nil {
		return
	}
	m.reconnectScheduled.WithLabelValues(server).Inc()
}

// RetriesExhausted implements reconnect.Observer.
func (m *Metrics) RetriesExhausted(server string, attempts int) {
	if m == nil {
		return
	}
	m.reconnectExhausted.WithLabelValues(server).Inc()
}

// Reconnected implements reconnect.Observer.
func (m *Metrics) Reconnected(server string, attempts int) {
	if m == nil {
		return
	}
	m.reconnected.WithLabelValues(server).Inc()
}

var _ reconnect.Observer = (*Metrics)(nil)

// Frames returns a frame observer labelled with server, or nil when m is
// nil so the transport is left unwrapped.
func (m *Metrics) Frames(server string) transport.FrameObserver {
	if m == nil {
		return nil
	}
	return frameMetrics{m: m, server: server}
}

// Requests returns a request observer labelled with server, or nil when m
// is nil.
func (m *Metrics) Requests(server string) session.RequestObserver {
	if m == nil {
		return nil
	}
	return requestMetrics{m: m, server: server}
}

type frameMetrics struct {
	m      *Metrics
	server string
}

func (f frameMetrics) FrameSent(size int, took time.Duration, err error) {
	f.m.framesTotal.WithLabelValues(f.server, "out", resultLabel(err)).Inc()
	if err == nil {
		f.m.frameBytes.WithLabelValues(f.server, "out").Add(float64(size))
	}
}

func (f frameMetrics) FrameReceived(size int) {
	f.m.framesTotal.WithLabelValues(f.server, "in", "ok").Inc()
	f.m.frameBytes.WithLabelValues(f.server, "in").Add(float64(size))
}

func (f frameMetrics) StreamEnded(kind transport.TerminationKind) {
	f.m.streamEnds.WithLabelValues(f.server, kind.String()).Inc()
}

type requestMetrics struct {
	m      *Metrics
	server string
}

func (r requestMetrics) RequestCompleted(method string, took time.Duration, err error) {
	status := resultLabel(err)
	r.m.requestDuration.WithLabelValues(r.server, method, status).Observe(took.Seconds())
	r.m.requestTotal.WithLabelValues(r.server, method, status).Inc()
}

func (r requestMetrics) PendingChanged(n int) {
	r.m.pendingRequests.WithLabelValues(r.server).Set(float64(n))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
