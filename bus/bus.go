// Package bus distributes engine events to subscribers and persists them for
// replay. The engine publishes through runtime.EventPublisher, so loggers,
// stores and the daemon's admin endpoints observe runs without being known to
// the engine.
package bus

import "github.com/petal-labs/arbor/runtime"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for a specific run.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan runtime.Event

	// Close unsubscribes and releases resources.
	Close() error
}
