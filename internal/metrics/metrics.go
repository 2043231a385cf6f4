// Package metrics exposes Prometheus metrics for the verdict services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes recorded per endpoint.
const (
	OutcomePositive      = "positive"
	OutcomeNegative      = "negative"
	OutcomeBadRequest    = "bad_request"
	OutcomeDecodeError   = "decode_error"
	OutcomeDetectorError = "detector_error"
	OutcomeRateLimited   = "rate_limited"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	instances *prometheus.HistogramVec
	registry  *prometheus.Registry
}

// New creates a Metrics instance with its collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shutter_requests_total",
				Help: "Inference requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shutter_request_duration_seconds",
				Help:    "Inference request latency from body read to response",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"endpoint"},
		),
		instances: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shutter_instances_detected",
				Help:    "Hands or faces detected per frame",
				Buckets: []float64{0, 1, 2, 3, 5, 8},
			},
			[]string{"endpoint"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.latency,
		m.instances,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.latency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveInstances records how many hands or faces a frame contained.
func (m *Metrics) ObserveInstances(endpoint string, n int) {
	if m == nil {
		return
	}
	m.instances.WithLabelValues(endpoint).Observe(float64(n))
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
