package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

type collector struct {
	mu     sync.Mutex
	events []runtime.Event
}

func (c *collector) emit(e runtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []runtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]runtime.Event(nil), c.events...)
}

func scoreEvent(node core.NodeID, weight float64) runtime.Event {
	return runtime.NewEvent(runtime.EventNodeScore, "run-1").
		WithNode(node, "", "").
		WithPayload("score", weight)
}

func TestThrottle_PassThrough(t *testing.T) {
	c := &collector{}
	te := NewThrottledEmitter(c.emit, ThrottleConfig{CoalesceInterval: time.Hour})
	defer te.Close()

	te.Emit(runtime.NewEvent(runtime.EventNodeStarted, "run-1"))
	te.Emit(runtime.NewEvent(runtime.EventNodeFinished, "run-1"))

	if got := c.snapshot(); len(got) != 2 {
		t.Fatalf("got %d events immediately, want 2", len(got))
	}
}

func TestThrottle_CoalescesScoresPerNode(t *testing.T) {
	c := &collector{}
	te := NewThrottledEmitter(c.emit, ThrottleConfig{CoalesceInterval: time.Hour})

	te.Emit(scoreEvent(2, 10))
	te.Emit(scoreEvent(1, 5))
	te.Emit(scoreEvent(2, 20))
	te.Emit(scoreEvent(2, 30))

	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("score events leaked before flush: %d", len(got))
	}
	te.Close()
	te.Close()

	got := c.snapshot()
	if len(got) != 2 {
		t.Fatalf("flushed %d events, want 2", len(got))
	}
	if got[0].NodeID != 2 || got[0].Payload["score"] != float64(30) {
		t.Errorf("first flushed = %v %v, want n2 latest score", got[0].NodeID, got[0].Payload)
	}
	if got[1].NodeID != 1 {
		t.Errorf("second flushed = %v, want n1", got[1].NodeID)
	}

	te.Emit(scoreEvent(3, 1))
	if len(c.snapshot()) != 2 {
		t.Error("events accepted after Close")
	}
}

func TestThrottle_PeriodicFlush(t *testing.T) {
	c := &collector{}
	te := NewThrottledEmitter(c.emit, ThrottleConfig{CoalesceInterval: 10 * time.Millisecond})
	defer te.Close()

	te.Emit(scoreEvent(1, 1))
	deadline := time.Now().Add(time.Second)
	for len(c.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("coalesced event never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestThrottle_CustomKinds(t *testing.T) {
	c := &collector{}
	te := NewThrottledEmitter(c.emit, ThrottleConfig{
		CoalesceInterval: time.Hour,
		Kinds:            []runtime.EventKind{runtime.EventNodeOutput},
	})
	defer te.Close()

	te.Emit(scoreEvent(1, 1))
	te.Emit(runtime.NewEvent(runtime.EventNodeOutput, "run-1"))

	if got := c.snapshot(); len(got) != 1 || got[0].Kind != runtime.EventNodeScore {
		t.Errorf("got %v, want only the score event passed through", got)
	}
}
