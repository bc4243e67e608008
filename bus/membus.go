package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/petal-labs/arbor/runtime"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int

	// Kinds restricts published events to these kinds. Empty means all.
	Kinds []runtime.EventKind
}

// MemBus is an in-memory event bus implementation.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // runID -> subscribers
	globalSubs []*memSub            // subscribers for all runs
	bufSize    int
	kinds      []runtime.EventKind
	closed     bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
		kinds:   slices.Clone(config.Kinds),
	}
}

// Stats reports how many events were accepted and how many deliveries were
// dropped because a subscriber's buffer was full.
func (b *MemBus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Publish sends an event to all matching subscribers.
// Run-specific subscribers receive events matching their run ID,
// and global subscribers receive all events. If the bus is closed,
// the event is silently dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if len(b.kinds) > 0 && !slices.Contains(b.kinds, event.Kind) {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subs[event.RunID] {
		if !sub.send(event) {
			b.dropped.Add(1)
		}
	}
	for _, sub := range b.globalSubs {
		if !sub.send(event) {
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for a specific run.
// Returns a Subscription that must be closed when done.
func (b *MemBus) Subscribe(runID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	sub.detach = func() { b.remove(runID, sub) }
	b.subs[runID] = append(b.subs[runID], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives events from all runs.
// Returns a Subscription that must be closed when done.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize)
	sub.detach = func() { b.removeGlobal(sub) }
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

func (b *MemBus) remove(runID string, sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := slices.DeleteFunc(b.subs[runID], func(s *memSub) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.subs, runID)
		return
	}
	b.subs[runID] = subs
}

func (b *MemBus) removeGlobal(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalSubs = slices.DeleteFunc(b.globalSubs, func(s *memSub) bool { return s == sub })
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	// Close all run-specific subscriptions.
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}

	// Close all global subscriptions.
	for _, sub := range b.globalSubs {
		sub.close()
	}

	return nil
}

// memSub is an in-memory subscription.
type memSub struct {
	ch     chan runtime.Event
	mu     sync.Mutex
	closed bool

	// detach removes the subscription from its bus.
	detach func()
}

func newMemSub(bufSize int) *memSub {
	return &memSub{
		ch: make(chan runtime.Event, bufSize),
	}
}

// Events returns a channel of events for this subscription.
func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	s.close()
	if s.detach != nil {
		s.detach()
	}
	return nil
}

// close performs the actual channel close, guarded against double-close.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event to the subscription's channel. It reports false
// when the channel is full; events for closed subscriptions are ignored.
func (s *memSub) send(event runtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Compile-time interface checks.
var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
