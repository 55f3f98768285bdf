package metrics

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PoolMetrics contains Prometheus metrics for the resource pool.
type PoolMetrics struct {
	registry *prometheus.Registry

	allocationsTotal  *prometheus.CounterVec
	allocationLatency *prometheus.HistogramVec
	releasesTotal     *prometheus.CounterVec
	doubleReleases    prometheus.Counter
	evictionsTotal    prometheus.Counter

	utilization     *prometheus.GaugeVec
	waitingRequests *prometheus.GaugeVec
	healthLevel     prometheus.Gauge

	bufferPoolHitRate prometheus.Gauge

	systemCPUPercent    prometheus.Gauge
	systemMemoryPercent prometheus.Gauge
	systemDiskPercent   prometheus.Gauge
}

// NewPoolMetrics creates and registers resource pool metrics.
func NewPoolMetrics(registry *prometheus.Registry) (*PoolMetrics, error) {
	m := &PoolMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize pool metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pool metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for PoolMetrics.
func (m *PoolMetrics) initMetrics() error {
	m.allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_allocations_total",
			Help: "Total number of allocation attempts",
		},
		[]string{"resource_type", "priority", "status"}, // status: success, exhausted, constraint
	)

	m.allocationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_allocation_latency_seconds",
			Help:    "Time from allocation request to grant",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"resource_type"},
	)

	m.releasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_releases_total",
			Help: "Total number of resource releases",
		},
		[]string{"resource_type"},
	)

	m.doubleReleases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_double_releases_total",
		Help: "Total number of release calls on already released resources",
	})

	m.evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_evictions_total",
		Help: "Total number of evictions reported to the pool",
	})

	m.utilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_utilization_ratio",
			Help: "Fraction of capacity currently allocated per resource type",
		},
		[]string{"resource_type"},
	)

	m.waitingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_waiting_requests",
			Help: "Allocation requests currently waiting for capacity",
		},
		[]string{"priority"},
	)

	m.healthLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_health_level",
		Help: "Pool health level (0 healthy, 1 warning, 2 critical)",
	})

	m.bufferPoolHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_buffer_cache_hit_ratio",
		Help: "Fraction of scratch buffer requests served from the pool",
	})

	m.systemCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_system_cpu_percent",
		Help: "System CPU usage sampled by the pool monitor",
	})

	m.systemMemoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_system_memory_percent",
		Help: "System memory usage sampled by the pool monitor",
	})

	m.systemDiskPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_system_disk_percent",
		Help: "Disk usage of the scratch path sampled by the pool monitor",
	})

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *PoolMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.allocationsTotal,
		m.allocationLatency,
		m.releasesTotal,
		m.doubleReleases,
		m.evictionsTotal,
		m.utilization,
		m.waitingRequests,
		m.healthLevel,
		m.bufferPoolHitRate,
		m.systemCPUPercent,
		m.systemMemoryPercent,
		m.systemDiskPercent,
	}
}

// Describe implements the Collector interface.
func (m *PoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *PoolMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordAllocation records an allocation attempt and its latency in seconds.
func (m *PoolMetrics) RecordAllocation(resourceType, priority, status string, latency float64) {
	m.allocationsTotal.WithLabelValues(resourceType, priority, status).Inc()
	if status == StatusSuccess {
		m.allocationLatency.WithLabelValues(resourceType).Observe(latency)
	}
}

// RecordRelease records a resource release.
func (m *PoolMetrics) RecordRelease(resourceType string) {
	m.releasesTotal.WithLabelValues(resourceType).Inc()
}

// RecordDoubleRelease records a release call that found the resource already returned.
func (m *PoolMetrics) RecordDoubleRelease() {
	m.doubleReleases.Inc()
}

// RecordEviction records an eviction reported to the pool.
func (m *PoolMetrics) RecordEviction() {
	m.evictionsTotal.Inc()
}

// SetUtilization updates the utilization gauge for a resource type.
func (m *PoolMetrics) SetUtilization(resourceType string, ratio float64) {
	m.utilization.WithLabelValues(resourceType).Set(ratio)
}

// SetWaiting updates the waiting request gauge for a priority class.
func (m *PoolMetrics) SetWaiting(priority string, count float64) {
	m.waitingRequests.WithLabelValues(priority).Set(count)
}

// SetHealthLevel updates the pool health gauge.
func (m *PoolMetrics) SetHealthLevel(level float64) {
	m.healthLevel.Set(level)
}

// SetBufferPoolHitRate updates the scratch buffer cache gauge.
func (m *PoolMetrics) SetBufferPoolHitRate(ratio float64) {
	m.bufferPoolHitRate.Set(ratio)
}

// SetSystemGauges updates the gauges sampled from the host.
func (m *PoolMetrics) SetSystemGauges(cpuPercent, memoryPercent, diskPercent float64) {
	m.systemCPUPercent.Set(cpuPercent)
	m.systemMemoryPercent.Set(memoryPercent)
	m.systemDiskPercent.Set(diskPercent)
}

// GetUtilization reads back the utilization gauge for a resource type.
// This is useful in tests and for the pool's own snapshot reporting.
func (m *PoolMetrics) GetUtilization(resourceType string) float64 {
	metric := &dto.Metric{}
	if err := m.utilization.WithLabelValues(resourceType).Write(metric); err != nil {
		log.Printf("failed to read pool utilization metric: %v", err)
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
