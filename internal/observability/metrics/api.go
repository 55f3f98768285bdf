package metrics

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// APIMetrics contains Prometheus metrics for the HTTP API.
type APIMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	authFailures    prometheus.Counter
	rateLimited     prometheus.Counter
}

// NewAPIMetrics creates and registers HTTP API metrics.
func NewAPIMetrics(registry *prometheus.Registry) (*APIMetrics, error) {
	m := &APIMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize API metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register API metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for APIMetrics.
func (m *APIMetrics) initMetrics() error {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Time taken to serve API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "api_active_requests",
		Help: "Number of API requests currently in flight",
	})

	m.authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "api_auth_failures_total",
		Help: "Total number of rejected authentication attempts",
	})

	m.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "api_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *APIMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.authFailures,
		m.rateLimited,
	}
}

// Describe implements the Collector interface.
func (m *APIMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *APIMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordRequest records a served request with its duration in seconds.
func (m *APIMetrics) RecordRequest(method, path string, statusCode int, duration float64) {
	m.requestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration)
}

// RequestStarted increments the in-flight gauge.
func (m *APIMetrics) RequestStarted() {
	m.activeRequests.Inc()
}

// RequestFinished decrements the in-flight gauge.
func (m *APIMetrics) RequestFinished() {
	m.activeRequests.Dec()
}

// RecordAuthFailure records a rejected authentication attempt.
func (m *APIMetrics) RecordAuthFailure() {
	m.authFailures.Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *APIMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// GetActiveRequests returns the current number of in-flight requests.
func (m *APIMetrics) GetActiveRequests() float64 {
	metric := &dto.Metric{}
	if err := m.activeRequests.Write(metric); err != nil {
		log.Printf("failed to read active request metric: %v", err)
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
