package observability

import (
	"github.com/audiohub/audiohub-go/internal/events"
)

// MetricsConsumer feeds error and resource events from the event bus into
// the Prometheus collectors. It counts every event it sees, suppression
// for noisy channels happens downstream in the notification consumer.
type MetricsConsumer struct {
	metrics *Metrics
}

// NewMetricsConsumer creates a consumer bound to the given collectors.
func NewMetricsConsumer(m *Metrics) *MetricsConsumer {
	return &MetricsConsumer{metrics: m}
}

// Name implements events.EventConsumer.
func (c *MetricsConsumer) Name() string {
	return "observability-metrics"
}

// ProcessEvent implements events.EventConsumer.
func (c *MetricsConsumer) ProcessEvent(event events.ErrorEvent) error {
	c.metrics.Recovery.RecordError(event.GetComponent(), string(event.GetKind()))
	return nil
}

// ProcessBatch implements events.EventConsumer.
func (c *MetricsConsumer) ProcessBatch(errorEvents []events.ErrorEvent) error {
	for _, event := range errorEvents {
		if err := c.ProcessEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// SupportsBatching implements events.EventConsumer.
func (c *MetricsConsumer) SupportsBatching() bool {
	return true
}

// ProcessResourceEvent implements events.ResourceEventConsumer. Pressure
// events move the pool health gauge, recovery events reset it.
func (c *MetricsConsumer) ProcessResourceEvent(event events.ResourceEvent) error {
	level := 0.0
	switch event.GetSeverity() {
	case events.SeverityWarning:
		level = 1
	case events.SeverityCritical:
		level = 2
	}
	c.metrics.Pool.SetHealthLevel(level)
	return nil
}
