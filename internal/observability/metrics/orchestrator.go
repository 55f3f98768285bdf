package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// OrchestratorMetrics contains Prometheus metrics for the model orchestrator.
type OrchestratorMetrics struct {
	registry *prometheus.Registry

	modelLoadsTotal   *prometheus.CounterVec
	modelUnloadsTotal *prometheus.CounterVec
	modelLoadDuration *prometheus.HistogramVec
	modelEvictions    prometheus.Counter
	residentModel     *prometheus.GaugeVec

	memoryUsageBytes prometheus.Gauge
	memoryLimitBytes prometheus.Gauge

	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	stepRetriesTotal *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
}

// NewOrchestratorMetrics creates and registers orchestrator metrics.
func NewOrchestratorMetrics(registry *prometheus.Registry) (*OrchestratorMetrics, error) {
	m := &OrchestratorMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register orchestrator metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for OrchestratorMetrics.
func (m *OrchestratorMetrics) initMetrics() error {
	m.modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_model_loads_total",
			Help: "Total number of model load attempts",
		},
		[]string{"model", "status"}, // status: success, error, fallback
	)

	m.modelUnloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_model_unloads_total",
			Help: "Total number of model unloads",
		},
		[]string{"model"},
	)

	m.modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_model_load_duration_seconds",
			Help:    "Time taken to load a model",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"model"},
	)

	m.modelEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_model_evictions_total",
		Help: "Total number of models evicted to make room for another",
	})

	m.residentModel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_resident_model",
			Help: "Currently resident model (1 for loaded, 0 otherwise)",
		},
		[]string{"model"},
	)

	m.memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_memory_usage_bytes",
		Help: "Memory currently charged against the model budget",
	})

	m.memoryLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_memory_limit_bytes",
		Help: "Configured memory budget for resident models",
	})

	m.tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_total",
			Help: "Total number of processed tasks",
		},
		[]string{"task_type", "status"},
	)

	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "End to end task processing time",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12),
		},
		[]string{"task_type"},
	)

	m.stepRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_step_retries_total",
			Help: "Total number of step retries after retryable failures",
		},
		[]string{"operation"},
	)

	m.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_state_transitions_total",
			Help: "Total number of orchestrator state transitions",
		},
		[]string{"from", "to"},
	)

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *OrchestratorMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.modelLoadsTotal,
		m.modelUnloadsTotal,
		m.modelLoadDuration,
		m.modelEvictions,
		m.residentModel,
		m.memoryUsageBytes,
		m.memoryLimitBytes,
		m.tasksTotal,
		m.taskDuration,
		m.stepRetriesTotal,
		m.stateTransitions,
	}
}

// Describe implements the Collector interface.
func (m *OrchestratorMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *OrchestratorMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordModelLoad records a model load attempt with its duration in seconds.
func (m *OrchestratorMetrics) RecordModelLoad(model, status string, duration float64) {
	m.modelLoadsTotal.WithLabelValues(model, status).Inc()
	m.modelLoadDuration.WithLabelValues(model).Observe(duration)
}

// RecordModelUnload records a model unload.
func (m *OrchestratorMetrics) RecordModelUnload(model string) {
	m.modelUnloadsTotal.WithLabelValues(model).Inc()
}

// RecordEviction records a model evicted to free budget for another.
func (m *OrchestratorMetrics) RecordEviction() {
	m.modelEvictions.Inc()
}

// SetResidentModel marks the named model as resident and clears the previous one.
func (m *OrchestratorMetrics) SetResidentModel(previous, current string) {
	if previous != "" {
		m.residentModel.WithLabelValues(previous).Set(0)
	}
	if current != "" {
		m.residentModel.WithLabelValues(current).Set(1)
	}
}

// SetMemoryUsage updates the memory budget gauges.
func (m *OrchestratorMetrics) SetMemoryUsage(usage, limit int64) {
	m.memoryUsageBytes.Set(float64(usage))
	m.memoryLimitBytes.Set(float64(limit))
}

// RecordTask records a completed task with its duration in seconds.
func (m *OrchestratorMetrics) RecordTask(taskType, status string, duration float64) {
	m.tasksTotal.WithLabelValues(taskType, status).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(duration)
}

// RecordStepRetry records a retry of the named operation.
func (m *OrchestratorMetrics) RecordStepRetry(operation string) {
	m.stepRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordStateTransition records an orchestrator state change.
func (m *OrchestratorMetrics) RecordStateTransition(from, to string) {
	m.stateTransitions.WithLabelValues(from, to).Inc()
}
