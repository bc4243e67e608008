package bus

import (
	"context"
	"log/slog"

	"github.com/petal-labs/arbor/runtime"
)

// StoreSubscriber writes events to an EventStore. Handle has the
// runtime.EventHandler signature, so it can be passed to the engine options
// directly or fed from a bus subscription with Consume.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event to the store. Errors are logged.
func (s *StoreSubscriber) Handle(event runtime.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"run_id", event.RunID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Consume persists every event received on sub until the subscription is
// closed or ctx ends.
func (s *StoreSubscriber) Consume(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			s.Handle(e)
		}
	}
}
