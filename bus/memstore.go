package bus

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/petal-labs/arbor/runtime"
)

// MemEventStore is a thread-safe in-memory event store. Events of a run are
// kept sorted by Seq.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[string][]runtime.Event // runID -> events
}

// NewMemEventStore creates a new in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{
		events: make(map[string][]runtime.Event),
	}
}

func (s *MemEventStore) Append(_ context.Context, event runtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.events[event.RunID]
	i, found := slices.BinarySearchFunc(run, event.Seq, func(e runtime.Event, seq uint64) int {
		switch {
		case e.Seq < seq:
			return -1
		case e.Seq > seq:
			return 1
		}
		return 0
	})
	if found {
		return fmt.Errorf("memstore: run %s seq %d: %w", event.RunID, event.Seq, ErrDuplicateEvent)
	}
	s.events[event.RunID] = slices.Insert(run, i, event)
	return nil
}

func (s *MemEventStore) List(_ context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []runtime.Event
	for _, e := range s.events[runID] {
		if e.Seq <= afterSeq {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, runID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[runID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Seq, nil
}

func (s *MemEventStore) RunIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time interface check.
var _ EventStore = (*MemEventStore)(nil)
