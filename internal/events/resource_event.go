package events

import (
	"fmt"
	"time"
)

// resourceEvent is the concrete ResourceEvent the pool monitor publishes.
type resourceEvent struct {
	resourceType string
	currentValue float64
	threshold    float64
	severity     string
	timestamp    time.Time
	metadata     map[string]any
}

// NewResourceEvent creates a resource pressure event stamped with the
// current time.
func NewResourceEvent(resourceType string, currentValue, threshold float64, severity string) ResourceEvent {
	return &resourceEvent{
		resourceType: resourceType,
		currentValue: currentValue,
		threshold:    threshold,
		severity:     severity,
		timestamp:    time.Now(),
		metadata:     make(map[string]any),
	}
}

func (r *resourceEvent) GetResourceType() string { return r.resourceType }

func (r *resourceEvent) GetCurrentValue() float64 { return r.currentValue }

func (r *resourceEvent) GetThreshold() float64 { return r.threshold }

func (r *resourceEvent) GetSeverity() string { return r.severity }

func (r *resourceEvent) GetTimestamp() time.Time { return r.timestamp }

func (r *resourceEvent) GetMetadata() map[string]any { return r.metadata }

// GetMessage renders the crossing for logs and notifications.
func (r *resourceEvent) GetMessage() string {
	if r.severity == SeverityRecovery {
		return fmt.Sprintf("%s usage recovered to %.1f%%", r.resourceType, r.currentValue)
	}
	return fmt.Sprintf("%s usage %.1f%% crossed %s threshold %.1f%%",
		r.resourceType, r.currentValue, r.severity, r.threshold)
}
