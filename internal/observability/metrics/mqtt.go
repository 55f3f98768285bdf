package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure stage label values recorded by the MQTT client.
const (
	// MQTTStagePublish marks a publish rejected by the broker.
	MQTTStagePublish = "publish"
	// MQTTStagePublishTimeout marks a publish that timed out waiting for the broker.
	MQTTStagePublishTimeout = "publish_timeout"
	// MQTTStageConnection marks a dropped broker connection.
	MQTTStageConnection = "connection"
	// MQTTStageReconnect marks a failed reconnect attempt.
	MQTTStageReconnect = "reconnect"
)

// MQTTMetrics contains Prometheus metrics for broker connectivity and task
// event delivery.
type MQTTMetrics struct {
	registry *prometheus.Registry

	connected       prometheus.Gauge
	lastConnectedAt prometheus.Gauge
	eventsDelivered prometheus.Counter
	payloadBytes    prometheus.Histogram
	publishDuration prometheus.Histogram
	failures        *prometheus.CounterVec
	reconnects      prometheus.Counter
}

// NewMQTTMetrics creates and registers MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for MQTTMetrics.
func (m *MQTTMetrics) initMetrics() error {
	m.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connected",
		Help: "Broker connection state (1 connected, 0 disconnected)",
	})

	m.lastConnectedAt = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_last_connected_timestamp_seconds",
		Help: "Unix time of the most recent successful broker connection",
	})

	m.eventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_task_events_delivered_total",
		Help: "Total number of task events delivered to the broker",
	})

	m.payloadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_event_payload_bytes",
		Help:    "Size of delivered task event payloads",
		Buckets: prometheus.ExponentialBuckets(BucketStart100B, BucketFactor2, BucketCount10),
	})

	m.publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_duration_seconds",
		Help:    "Time from publish call to broker acknowledgement",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	m.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_failures_total",
			Help: "Total number of MQTT failures by stage",
		},
		[]string{"stage"},
	)

	m.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "Total number of broker reconnect attempts",
	})

	return nil
}

// getCollectors returns all collectors in order for Describe/Collect operations.
func (m *MQTTMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connected,
		m.lastConnectedAt,
		m.eventsDelivered,
		m.payloadBytes,
		m.publishDuration,
		m.failures,
		m.reconnects,
	}
}

// Describe implements the Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// ObserveConnection records the current broker connection state.
func (m *MQTTMetrics) ObserveConnection(connected bool) {
	if connected {
		m.connected.Set(1)
		m.lastConnectedAt.SetToCurrentTime()
		return
	}
	m.connected.Set(0)
}

// RecordDelivery records one acknowledged task event publish.
func (m *MQTTMetrics) RecordDelivery(payloadBytes int, seconds float64) {
	m.eventsDelivered.Inc()
	m.payloadBytes.Observe(float64(payloadBytes))
	m.publishDuration.Observe(seconds)
}

// RecordFailure records a failure at the given stage.
func (m *MQTTMetrics) RecordFailure(stage string) {
	m.failures.WithLabelValues(stage).Inc()
}

// RecordReconnectAttempt records one reconnect attempt, successful or not.
func (m *MQTTMetrics) RecordReconnectAttempt() {
	m.reconnects.Inc()
}
