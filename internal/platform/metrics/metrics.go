// Package metrics holds cross-cutting Prometheus metrics; domain-specific
// metrics live next to their modules.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries the HTTP-level instrumentation.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
}

// New registers the platform metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coalesce_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coalesce_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "path", "status"}),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
}
