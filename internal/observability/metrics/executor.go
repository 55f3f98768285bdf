package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecutorMetrics contains Prometheus metrics for step executors.
type ExecutorMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	outputWords       prometheus.Counter
	featureFrames     prometheus.Counter
	remoteCacheHits   prometheus.Counter
	remoteCacheMisses prometheus.Counter
	rateLimitWaits    prometheus.Counter
}

// NewExecutorMetrics creates and registers executor metrics.
func NewExecutorMetrics(registry *prometheus.Registry) (*ExecutorMetrics, error) {
	m := &ExecutorMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize executor metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register executor metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for ExecutorMetrics.
func (m *ExecutorMetrics) initMetrics() error {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_operations_total",
			Help: "Total number of executed step operations",
		},
		[]string{"backend", "operation", "status"}, // backend: local, http, tflite
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "executor_operation_duration_seconds",
			Help:    "Time taken to execute a step operation",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"backend", "operation"},
	)

	m.outputWords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_transcript_words_total",
		Help: "Total number of transcript words produced",
	})

	m.featureFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_feature_frames_total",
		Help: "Total number of feature frames produced",
	})

	m.remoteCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_remote_cache_hits_total",
		Help: "Total number of remote capability lookups served from cache",
	})

	m.remoteCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_remote_cache_misses_total",
		Help: "Total number of remote capability lookups that hit the backend",
	})

	m.rateLimitWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_rate_limit_waits_total",
		Help: "Total number of requests delayed by the outbound rate limiter",
	})

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *ExecutorMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.outputWords,
		m.featureFrames,
		m.remoteCacheHits,
		m.remoteCacheMisses,
		m.rateLimitWaits,
	}
}

// Describe implements the Collector interface.
func (m *ExecutorMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *ExecutorMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordOperation records an executed operation with its duration in seconds.
func (m *ExecutorMetrics) RecordOperation(backend, operation, status string, duration float64) {
	m.operationsTotal.WithLabelValues(backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration)
}

// RecordOutput records the volume of step output.
func (m *ExecutorMetrics) RecordOutput(words, frames int) {
	if words > 0 {
		m.outputWords.Add(float64(words))
	}
	if frames > 0 {
		m.featureFrames.Add(float64(frames))
	}
}

// RecordRemoteCache records whether a capability lookup was served from cache.
func (m *ExecutorMetrics) RecordRemoteCache(hit bool) {
	if hit {
		m.remoteCacheHits.Inc()
	} else {
		m.remoteCacheMisses.Inc()
	}
}

// RecordRateLimitWait records a request delayed by the outbound limiter.
func (m *ExecutorMetrics) RecordRateLimitWait() {
	m.rateLimitWaits.Inc()
}
