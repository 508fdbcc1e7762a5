// Package monitoring exposes the gateway's Prometheus metrics and the gin
// middleware that feeds the HTTP ones.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter

	// Engine metrics
	EngineCalls  *prometheus.CounterVec
	EngineErrors *prometheus.CounterVec

	// Snapshot metrics
	SnapshotsSaved    prometheus.Counter
	SnapshotsRestored prometheus.Counter

	// Realtime metrics
	WSConnections  prometheus.Gauge
	WSMessages     *prometheus.CounterVec
	WSSubscription prometheus.Gauge
}

// NewMetrics registers and returns the gateway's metric set. Call at most
// once per process; collectors register against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsEvicted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_sessions_evicted_total",
				Help: "Total number of sessions evicted by idle GC",
			},
		),
		EngineCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_engine_calls_total",
				Help: "Total number of engine session calls",
			},
			[]string{"operation"},
		),
		EngineErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_engine_errors_total",
				Help: "Total number of failed engine session calls",
			},
			[]string{"operation"},
		),
		SnapshotsSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_snapshots_saved_total",
				Help: "Total number of state snapshots saved",
			},
		),
		SnapshotsRestored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_snapshots_restored_total",
				Help: "Total number of state snapshots restored",
			},
		),
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_ws_connections",
				Help: "Number of connected realtime clients",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ws_messages_total",
				Help: "Total number of realtime messages",
			},
			[]string{"direction", "type"},
		),
		WSSubscription: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_ws_subscriptions",
				Help: "Number of live client-session subscriptions",
			},
		),
	}
}
