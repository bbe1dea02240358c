// Package metrics collects the dispatch layer's operational metrics and
// exposes them in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its own registry so tests can construct isolated instances
// without tripping duplicate-registration panics on the global one.
type Metrics struct {
	registry *prometheus.Registry

	PushesDispatched     *prometheus.CounterVec
	PushesCompleted      *prometheus.CounterVec
	PushLatency          *prometheus.HistogramVec
	LiveWorkers          *prometheus.GaugeVec
	DuplicateConnections prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		PushesDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushdispatch_pushes_dispatched_total",
			Help: "Pushes handed to a worker, by pool.",
		}, []string{"pool"}),
		PushesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushdispatch_pushes_completed_total",
			Help: "Completed pushes by pool and final status.",
		}, []string{"pool", "status"}),
		PushLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pushdispatch_push_latency_seconds",
			Help:    "Adapter round-trip latency per push.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"pool"}),
		LiveWorkers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pushdispatch_workers_live",
			Help: "Currently registered workers per pool.",
		}, []string{"pool"}),
		DuplicateConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "pushdispatch_duplicate_connections_rejected_total",
			Help: "Connections closed because their peer address was already claimed.",
		}),
	}
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
