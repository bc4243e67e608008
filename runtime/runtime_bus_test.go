package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/petal-labs/arbor/bus"
	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

type echo struct{}

func TestEngine_PublishesToBus(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	opts := runtime.DefaultOptions()
	opts.EventBus = b
	e := runtime.New(opts)
	defer e.Close()

	runtime.Observe[echo](e, core.SignalRun, func(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
		return e.Finish(id, core.Success)
	})
	root, _ := e.Spawn(core.NoParent, echo{})

	all := b.SubscribeAll()
	defer all.Close()

	runID, err := e.Run(root)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var got []runtime.EventKind
	for len(got) < 4 {
		select {
		case ev := <-all.Events():
			if ev.RunID != runID {
				t.Errorf("%s carries run %q, want %q", ev.Kind, ev.RunID, runID)
			}
			got = append(got, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("received %v, want 4 events", got)
		}
	}
	if got[0] != runtime.EventRunStarted || got[3] != runtime.EventRunFinished {
		t.Errorf("events = %v", got)
	}
}

func TestEngine_TaskContextCarriesEmitter(t *testing.T) {
	var events []runtime.Event
	opts := runtime.DefaultOptions()
	opts.EventHandler = func(ev runtime.Event) { events = append(events, ev) }
	e := runtime.New(opts)
	defer e.Close()

	runtime.Observe[echo](e, core.SignalRun, func(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
		return e.Go(id, func(ctx context.Context) (core.Result, error) {
			if _, ok := runtime.NodeFromContext(ctx); !ok {
				t.Error("task context has no node")
			}
			runtime.EmitterFromContext(ctx)(runtime.NewEvent(runtime.EventNodeOutput, "").
				WithPayload("line", "hello"))
			return core.Success, nil
		})
	})
	root, _ := e.Spawn(core.NoParent, runtime.Meta{Name: "greeter", Kind: "echo"}, echo{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := e.Drive(ctx, root, time.Millisecond); err != nil {
		t.Fatal(err)
	}

	runID := e.RunID(root)
	var output bool
	for _, ev := range events {
		if ev.Kind == runtime.EventRunStarted {
			runID = ev.RunID
		}
		if ev.Kind == runtime.EventNodeOutput && ev.Payload["line"] == "hello" {
			output = true
			if ev.NodeID != root || ev.NodeName != "greeter" || ev.NodeKind != "echo" {
				t.Errorf("output node = %v %q %q, want %v greeter echo", ev.NodeID, ev.NodeName, ev.NodeKind, root)
			}
			if ev.RunID == "" || ev.RunID != runID {
				t.Errorf("output run id = %q, want %q", ev.RunID, runID)
			}
		}
	}
	if !output {
		t.Error("expected node.output emitted through the task context")
	}
}
