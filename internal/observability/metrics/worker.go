package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics contains Prometheus metrics for the stdio worker loop.
type WorkerMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decodeFailures  prometheus.Counter
}

// NewWorkerMetrics creates and registers worker metrics.
func NewWorkerMetrics(registry *prometheus.Registry) (*WorkerMetrics, error) {
	m := &WorkerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize worker metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register worker metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for WorkerMetrics.
func (m *WorkerMetrics) initMetrics() error {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_requests_total",
			Help: "Total number of worker requests by operation",
		},
		[]string{"operation", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_request_duration_seconds",
			Help:    "Time taken to serve worker requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.decodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_decode_failures_total",
		Help: "Total number of request lines that failed to decode",
	})

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *WorkerMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.decodeFailures,
	}
}

// Describe implements the Collector interface.
func (m *WorkerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *WorkerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordRequest records a served worker request with its duration in seconds.
func (m *WorkerMetrics) RecordRequest(operation, status string, duration float64) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordDecodeFailure records a request line that could not be decoded.
func (m *WorkerMetrics) RecordDecodeFailure() {
	m.decodeFailures.Inc()
}
