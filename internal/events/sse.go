package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels
// This is needed for SSE integration where Huma expects a channel-based select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Slow SSE client; drop rather than stall the dispatcher.
		}
	})
}

// SSETypes maps SSE event names to their payload types for the events
// endpoint schema.
func SSETypes() map[string]any {
	return map[string]any{
		"capture-started":   CaptureStartedEvent{},
		"capture-stopped":   CaptureStoppedEvent{},
		"capture-failed":    CaptureFailedEvent{},
		"subscriber-joined": SubscriberJoinedEvent{},
		"subscriber-left":   SubscriberLeftEvent{},
		"stream-metrics":    StreamMetricsEvent{},
	}
}

// SubscribeAll forwards every hub event type to ch and returns one
// function that removes all the subscriptions.
func SubscribeAll(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[CaptureStartedEvent](bus, ch),
		SubscribeToChannel[CaptureStoppedEvent](bus, ch),
		SubscribeToChannel[CaptureFailedEvent](bus, ch),
		SubscribeToChannel[SubscriberJoinedEvent](bus, ch),
		SubscribeToChannel[SubscriberLeftEvent](bus, ch),
		SubscribeToChannel[StreamMetricsEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
