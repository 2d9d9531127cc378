package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(CaptureStartedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic over the concrete type.
	switch e := ev.(type) {
	case CaptureStartedEvent:
		event.Publish(b.dispatcher, e)
	case CaptureStoppedEvent:
		event.Publish(b.dispatcher, e)
	case CaptureFailedEvent:
		event.Publish(b.dispatcher, e)
	case SubscriberJoinedEvent:
		event.Publish(b.dispatcher, e)
	case SubscriberLeftEvent:
		event.Publish(b.dispatcher, e)
	case StreamMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function. The handler's
// parameter type selects the events it receives. Returns an unsubscribe
// function, which is a no-op for unknown handler types.
// Usage: unsub := bus.Subscribe(func(e CaptureFailedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CaptureStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SubscriberJoinedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SubscriberLeftEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
