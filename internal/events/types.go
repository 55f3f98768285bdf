// Package events provides the asynchronous event bus that decouples error
// reporting from the health, metrics, notification, and telemetry consumers.
// Publishers on the processing path never block on a slow consumer.
package events

import (
	"time"

	"github.com/audiohub/audiohub-go/internal/errors"
)

// ErrorEvent is the bus-side view of an enhanced error. The errors package
// pushes its errors through this interface without a circular dependency.
type ErrorEvent interface {
	GetComponent() string
	GetCategory() string

	// GetKind returns the closed taxonomy kind.
	GetKind() errors.Kind

	GetContext() map[string]any
	GetTimestamp() time.Time
	GetError() error
	GetMessage() string

	// IsReported and MarkReported let consumers coordinate so telemetry
	// sends each error at most once.
	IsReported() bool
	MarkReported()
}

// EventConsumer processes error events delivered by the bus workers.
type EventConsumer interface {
	// Name identifies the consumer; registration rejects duplicates.
	Name() string

	ProcessEvent(event ErrorEvent) error

	// ProcessBatch handles multiple events at once. Only called when
	// SupportsBatching reports true.
	ProcessBatch(events []ErrorEvent) error
	SupportsBatching() bool
}

// ResourceEventConsumer is an EventConsumer that also handles resource
// pressure events from the pool monitor.
type ResourceEventConsumer interface {
	EventConsumer

	ProcessResourceEvent(event ResourceEvent) error
}

// EventBusStats is a point-in-time snapshot of the bus counters.
type EventBusStats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
	FastPathHits     uint64 // times the no-consumer fast path was taken
}

// ResourceEvent describes a threshold crossing observed by the pool monitor.
type ResourceEvent interface {
	// GetResourceType returns which resource crossed: memory, cpu, storage.
	GetResourceType() string

	// GetCurrentValue returns the usage percentage at observation time.
	GetCurrentValue() float64

	// GetThreshold returns the threshold that was crossed.
	GetThreshold() float64

	// GetSeverity returns warning, critical, or recovery.
	GetSeverity() string

	GetTimestamp() time.Time
	GetMetadata() map[string]any
	GetMessage() string
}

// Severity levels for resource events.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityRecovery = "recovery"
)

// Resource types for resource events.
const (
	ResourceMemory  = "memory"
	ResourceCPU     = "cpu"
	ResourceStorage = "storage"
)
