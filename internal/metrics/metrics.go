// Package metrics exposes Prometheus metrics about the control plane
// itself: request outcomes, latency, audit failures and rate limiting.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gpmonitor/internal/models"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	auditFailures prometheus.Counter
	rateLimited   prometheus.Counter
	httpRequests  *prometheus.CounterVec
}

// New registers the agent's collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpmonitor",
			Name:      "control_requests_total",
			Help:      "Control requests by kind, action and audit outcome.",
		}, []string{"kind", "action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gpmonitor",
			Name:      "control_request_duration_seconds",
			Help:      "Time spent handling control requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind", "action"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpmonitor",
			Name:      "audit_write_failures_total",
			Help:      "Audit events that could not be written to the sink.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpmonitor",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpmonitor",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code class.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.auditFailures,
		m.rateLimited,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveControl records a finished control request.
func (m *Metrics) ObserveControl(kind models.AuditKind, action, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(string(kind), action, outcome).Inc()
	m.duration.WithLabelValues(string(kind), action).Observe(elapsed.Seconds())
}

// AuditWriteFailed counts a failed audit sink write.
func (m *Metrics) AuditWriteFailed(error) {
	m.auditFailures.Inc()
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// ObserveHTTP counts a served request by route pattern.
func (m *Metrics) ObserveHTTP(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, codeClass(status)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func codeClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
