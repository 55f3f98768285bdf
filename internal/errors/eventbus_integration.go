// eventbus_integration.go routes built errors to an attached event publisher.
package errors

import (
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events. It lets this
// package hand errors to the events package without importing it, which
// would be a circular dependency.
type EventPublisher interface {
	TryPublish(event any) bool
}

var (
	globalEventPublisher atomic.Pointer[EventPublisher]

	// hasActiveReporting gates the expensive Build path; it is true once a
	// publisher or telemetry reporter is installed.
	hasActiveReporting atomic.Bool
)

// SetEventPublisher sets the global event publisher. Called by the events
// package during initialization; passing nil detaches it.
func SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		globalEventPublisher.Store(nil)
		updateReportingState()
		return
	}
	globalEventPublisher.Store(&publisher)
	hasActiveReporting.Store(true)
}

// updateReportingState recomputes the fast-path gate after a detach.
func updateReportingState() {
	active := globalEventPublisher.Load() != nil || GetTelemetryReporter() != nil
	hasActiveReporting.Store(active)
}

// publishToEventBus hands an error to the bus if one is attached.
func publishToEventBus(ee *EnhancedError) bool {
	publisherPtr := globalEventPublisher.Load()
	if publisherPtr == nil {
		return false
	}
	publisher := *publisherPtr
	if publisher == nil {
		return false
	}
	return publisher.TryPublish(ee)
}

// reportToTelemetry routes a freshly built error to the bus, falling back
// to the direct telemetry reporter when no bus is attached.
func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}
	if publishToEventBus(ee) {
		return
	}
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}
