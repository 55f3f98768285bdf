package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RecoveryMetrics contains Prometheus metrics for error classification and retries.
type RecoveryMetrics struct {
	registry *prometheus.Registry

	errorsTotal     *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	backoffDuration prometheus.Histogram
}

// NewRecoveryMetrics creates and registers recovery metrics.
func NewRecoveryMetrics(registry *prometheus.Registry) (*RecoveryMetrics, error) {
	m := &RecoveryMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize recovery metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register recovery metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for RecoveryMetrics.
func (m *RecoveryMetrics) initMetrics() error {
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_errors_total",
			Help: "Total number of recorded errors by component and kind",
		},
		[]string{"component", "kind"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_retries_total",
			Help: "Total number of retries scheduled by error kind",
		},
		[]string{"kind"},
	)

	m.backoffDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recovery_backoff_duration_seconds",
		Help:    "Backoff delays applied before retries",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
	})

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *RecoveryMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.errorsTotal,
		m.retriesTotal,
		m.backoffDuration,
	}
}

// Describe implements the Collector interface.
func (m *RecoveryMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *RecoveryMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordError records a classified error.
func (m *RecoveryMetrics) RecordError(component, kind string) {
	m.errorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordRetry records a scheduled retry with its backoff delay in seconds.
func (m *RecoveryMetrics) RecordRetry(kind string, backoffSeconds float64) {
	m.retriesTotal.WithLabelValues(kind).Inc()
	m.backoffDuration.Observe(backoffSeconds)
}
