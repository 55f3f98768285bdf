package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for database operations.
type DatastoreMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	snapshotWrites    prometheus.Counter
	taskRecordWrites  prometheus.Counter
}

// NewDatastoreMetrics creates and registers datastore metrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize datastore metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for DatastoreMetrics.
func (m *DatastoreMetrics) initMetrics() error {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_operations_total",
			Help: "Total number of datastore operations",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_operation_duration_seconds",
			Help:    "Time taken for datastore operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.snapshotWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datastore_health_snapshots_total",
		Help: "Total number of health snapshots appended",
	})

	m.taskRecordWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datastore_task_records_total",
		Help: "Total number of task records saved",
	})

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *DatastoreMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.snapshotWrites,
		m.taskRecordWrites,
	}
}

// Describe implements the Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordOperation records a datastore operation with its duration in seconds.
func (m *DatastoreMetrics) RecordOperation(operation, status string, duration float64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordSnapshotWrite records an appended health snapshot.
func (m *DatastoreMetrics) RecordSnapshotWrite() {
	m.snapshotWrites.Inc()
}

// RecordTaskRecordWrite records a saved task record.
func (m *DatastoreMetrics) RecordTaskRecordWrite() {
	m.taskRecordWrites.Inc()
}
