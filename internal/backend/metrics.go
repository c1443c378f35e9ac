package backend

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records backend call outcomes.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers backend collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_backend_requests_total",
		Help: "Backend API calls partitioned by resource, method and outcome.",
	}, []string{"resource", "method", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_backend_request_duration_seconds",
		Help:    "Latency of backend API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource", "method"})
	registerer.MustRegister(calls, duration)
	return &Metrics{calls: calls, duration: duration}
}

func (m *Metrics) observe(resource, method string, status int, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil && status == 0:
		outcome = "transport_error"
	case status == 401:
		outcome = "unauthorized"
	case status >= 500:
		outcome = "server_error"
	case status >= 400:
		outcome = "client_error"
	}
	m.calls.WithLabelValues(resource, method, outcome).Inc()
	m.duration.WithLabelValues(resource, method).Observe(time.Since(started).Seconds())
}
