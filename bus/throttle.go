package bus

import (
	"slices"
	"sync"
	"time"

	"github.com/petal-labs/arbor/runtime"
)

// ThrottleConfig controls the behavior of ThrottledEmitter.
type ThrottleConfig struct {
	// CoalesceInterval is how often to flush coalesced events.
	// Default: 100ms
	CoalesceInterval time.Duration

	// Kinds lists the event kinds to coalesce.
	// Default: node.score
	Kinds []runtime.EventKind
}

// ThrottledEmitter wraps a runtime.EventEmitter and coalesces high-frequency
// events, by default the node.score updates that score providers emit on
// every pass. Other kinds pass through immediately. Coalesced events keep
// only the latest event per node and are flushed by a background ticker.
type ThrottledEmitter struct {
	emit     runtime.EventEmitter
	interval time.Duration
	kinds    []runtime.EventKind

	mu      sync.Mutex
	pending map[string]runtime.Event // run:node -> latest event
	order   []string
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledEmitter creates a ThrottledEmitter and starts its flusher.
func NewThrottledEmitter(emit runtime.EventEmitter, cfg ThrottleConfig) *ThrottledEmitter {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	kinds := slices.Clone(cfg.Kinds)
	if len(kinds) == 0 {
		kinds = []runtime.EventKind{runtime.EventNodeScore}
	}

	te := &ThrottledEmitter{
		emit:     emit,
		interval: interval,
		kinds:    kinds,
		pending:  make(map[string]runtime.Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go te.run()

	return te
}

// Emit sends an event through the throttled emitter.
func (te *ThrottledEmitter) Emit(e runtime.Event) {
	if !slices.Contains(te.kinds, e.Kind) {
		te.emit(e)
		return
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if te.closed {
		return
	}

	key := e.NodeKey()
	if _, ok := te.pending[key]; !ok {
		te.order = append(te.order, key)
	}
	te.pending[key] = e
}

// Close flushes any pending events and stops the background ticker.
// It is safe to call Close multiple times.
func (te *ThrottledEmitter) Close() {
	te.mu.Lock()
	if te.closed {
		te.mu.Unlock()
		return
	}
	te.closed = true
	te.mu.Unlock()

	close(te.stopCh)
	<-te.doneCh
}

func (te *ThrottledEmitter) run() {
	defer close(te.doneCh)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			te.flush()
		case <-te.stopCh:
			te.flush()
			return
		}
	}
}

// flush emits the pending events in first-seen node order.
func (te *ThrottledEmitter) flush() {
	te.mu.Lock()
	if len(te.pending) == 0 {
		te.mu.Unlock()
		return
	}
	toFlush, order := te.pending, te.order
	te.pending = make(map[string]runtime.Event)
	te.order = nil
	te.mu.Unlock()

	for _, key := range order {
		te.emit(toFlush[key])
	}
}
