package events

// EventPublisherAdapter adapts the EventBus to the errors package's
// EventPublisher interface so enhanced errors flow onto the bus without the
// errors package importing this one.
type EventPublisherAdapter struct {
	bus *EventBus
}

// NewEventPublisherAdapter wraps bus for use as an errors.EventPublisher.
func NewEventPublisherAdapter(bus *EventBus) *EventPublisherAdapter {
	return &EventPublisherAdapter{bus: bus}
}

// TryPublish forwards event to the bus when it is an ErrorEvent and at
// least one consumer is listening. Anything else is dropped quietly.
func (a *EventPublisherAdapter) TryPublish(event any) bool {
	if a.bus == nil || !HasActiveConsumers() {
		return false
	}
	errorEvent, ok := event.(ErrorEvent)
	if !ok {
		return false
	}
	return a.bus.TryPublish(errorEvent)
}
