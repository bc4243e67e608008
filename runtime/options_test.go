package runtime

import (
	"sync"
	"testing"
	"time"
)

func TestSeqGen_ConcurrentUnique(t *testing.T) {
	const goroutines = 50
	const calls = 100

	sg := newSeqGen()
	var mu sync.Mutex
	seen := make(map[uint64]bool, goroutines*calls)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				v := sg.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for i := uint64(1); i <= goroutines*calls; i++ {
		if !seen[i] {
			t.Fatalf("missing sequence number %d", i)
		}
	}
}

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.events = append(p.events, e)
}

func TestBuildEmitter_NumbersPublishesAndDecorates(t *testing.T) {
	pub := &recordingPublisher{}
	var handled []Event
	var decorated int

	opts := Options{
		EventBus:     pub,
		EventHandler: func(e Event) { handled = append(handled, e) },
		EventEmitterDecorator: func(next EventEmitter) EventEmitter {
			return func(e Event) {
				decorated++
				e.TraceID = "trace"
				next(e)
			}
		},
	}
	emit := opts.buildEmitter()
	emit(NewEvent(EventNodeStarted, "r1"))
	emit(NewEvent(EventNodeFinished, "r1"))

	if decorated != 2 {
		t.Errorf("decorator calls = %d, want 2", decorated)
	}
	if len(pub.events) != 2 || len(handled) != 2 {
		t.Fatalf("published %d, handled %d; want 2 each", len(pub.events), len(handled))
	}
	for i, e := range handled {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.TraceID != "trace" {
			t.Errorf("event %d TraceID = %q, want trace", i, e.TraceID)
		}
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Logger == nil {
		t.Error("Logger should default to slog.Default()")
	}
	if o.Now == nil {
		t.Error("Now should default to time.Now")
	}
	if o.CompletionBuffer != 64 {
		t.Errorf("CompletionBuffer = %d, want 64", o.CompletionBuffer)
	}

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	o = Options{Now: func() time.Time { return fixed }, CompletionBuffer: 3}.withDefaults()
	if !o.Now().Equal(fixed) || o.CompletionBuffer != 3 {
		t.Errorf("explicit options overwritten: %v %d", o.Now(), o.CompletionBuffer)
	}
}
