package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/hydrate"
	"github.com/petal-labs/arbor/runtime"
)

type eventLog struct {
	mu     sync.Mutex
	events []runtime.Event
}

func (l *eventLog) Handle(e runtime.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds(runID string) []runtime.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []runtime.EventKind
	for _, e := range l.events {
		if e.RunID == runID {
			out = append(out, e.Kind)
		}
	}
	return out
}

func newTestRunner(handler runtime.EventHandler) *Runner {
	return NewRunner(RunnerConfig{
		EventHandler: handler,
		TickInterval: time.Millisecond,
	})
}

func TestRunnerRunFile(t *testing.T) {
	tests := []struct {
		file       string
		wantTree   string
		wantResult core.Result
	}{
		{"ok.yaml", "ok", core.Success},
		{"fail.yaml", "nope", core.Failure},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			log := &eventLog{}
			r := newTestRunner(log.Handle)

			report, err := r.RunFile(context.Background(), filepath.Join("testdata", tt.file))
			if err != nil {
				t.Fatalf("RunFile: %v", err)
			}
			if report.Tree != tt.wantTree || report.Result != tt.wantResult || report.Outcome != tt.wantResult.String() {
				t.Errorf("report = %+v", report)
			}
			if report.RunID == "" {
				t.Fatal("report has no run id")
			}
			kinds := log.kinds(report.RunID)
			if len(kinds) == 0 || kinds[0] != runtime.EventRunStarted || kinds[len(kinds)-1] != runtime.EventRunFinished {
				t.Errorf("run events = %v", kinds)
			}
		})
	}
}

func TestRunnerTimeoutInterrupts(t *testing.T) {
	log := &eventLog{}
	r := newTestRunner(log.Handle)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report, err := r.RunFile(ctx, filepath.Join("testdata", "slow.yaml"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if report.Outcome != "interrupted" || report.RunID == "" {
		t.Errorf("report = %+v", report)
	}
	kinds := log.kinds(report.RunID)
	if kinds[len(kinds)-1] != runtime.EventRunFinished {
		t.Errorf("last event = %s, want run.finished", kinds[len(kinds)-1])
	}
}

func TestRunnerLoadErrors(t *testing.T) {
	r := newTestRunner(nil)

	if _, err := r.RunFile(context.Background(), filepath.Join("testdata", "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}

	def := &graph.TreeDefinition{Root: graph.NodeDef{Name: "x", Type: "teleport"}}
	_, err := r.Run(context.Background(), def)
	var diagErr *graph.DiagnosticError
	if !errors.As(err, &diagErr) {
		t.Fatalf("err = %v, want *graph.DiagnosticError", err)
	}
}

func TestRunnerUsesFactoryActions(t *testing.T) {
	called := 0
	r := NewRunner(RunnerConfig{
		Factory: hydrate.NewFactory(hydrate.WithAction("probe", func(e *runtime.Engine, id core.NodeID) (core.Result, error) {
			called++
			return core.Success, nil
		})),
		TickInterval: time.Millisecond,
	})

	def := &graph.TreeDefinition{
		ID: "probe-tree",
		Root: graph.NodeDef{
			Name:   "probe",
			Type:   "action",
			Config: map[string]any{"action": "probe"},
		},
	}
	report, err := r.Run(context.Background(), def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called != 1 || report.Result != core.Success {
		t.Errorf("called = %d, report = %+v", called, report)
	}
}
