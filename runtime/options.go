package runtime

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultTickInterval is the pass interval used by Await when none is given.
const DefaultTickInterval = 10 * time.Millisecond

// Options controls engine behavior.
type Options struct {
	// Logger receives engine diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	// If nil, events are emitted without decoration.
	EventEmitterDecorator EventEmitterDecorator

	// EventBus distributes events to subscribers.
	// If nil, events are only sent to EventHandler.
	EventBus EventPublisher

	// CompletionBuffer is the capacity of the asynchronous completion
	// queue (default: 64). Tasks block on send once it is full until the
	// next Tick drains it.
	CompletionBuffer int
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		CompletionBuffer: 64,
	}
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.CompletionBuffer <= 0 {
		o.CompletionBuffer = 64
	}
	return o
}

// buildEmitter assembles the emitter used by an engine: sequence numbering,
// bus publication and the user handler, wrapped by the optional decorator.
func (o Options) buildEmitter() EventEmitter {
	seq := newSeqGen()
	emit := func(e Event) {
		e.Seq = seq.Next()
		if o.EventBus != nil {
			o.EventBus.Publish(e)
		}
		if o.EventHandler != nil {
			o.EventHandler(e)
		}
	}
	if o.EventEmitterDecorator != nil {
		return o.EventEmitterDecorator(emit)
	}
	return emit
}

// seqGen produces monotonically increasing sequence numbers for one engine.
// Tasks emit from their own goroutines, so the counter is atomic.
type seqGen struct {
	counter atomic.Uint64
}

func newSeqGen() *seqGen {
	return &seqGen{}
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}
