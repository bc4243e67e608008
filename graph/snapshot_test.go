package graph

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/runtime"
)

func newEngine(t *testing.T) *runtime.Engine {
	t.Helper()
	e := runtime.New(runtime.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	nodes.Register(e)
	t.Cleanup(e.Close)
	return e
}

func mustSpawn(t *testing.T, e *runtime.Engine, parent core.NodeID, data ...any) core.NodeID {
	t.Helper()
	id, err := e.Spawn(parent, data...)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	return id
}

func TestSnapshot_Scores(t *testing.T) {
	e := newEngine(t)
	root := mustSpawn(t, e, core.NoParent, nodes.Utility{})
	mustSpawn(t, e, root, core.Weight(40))
	mustSpawn(t, e, root, core.Weight(50))
	mustSpawn(t, e, root)

	got, err := Snapshot[core.Score](e, root)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := NewTree(None[core.Score](),
		NewTree(Some(core.Weight(40))),
		NewTree(Some(core.Weight(50))),
		NewTree(None[core.Score]()),
	)
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b core.Score) bool { return a.Compare(b) == 0 })); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}

	best := Fold(got, func(v Optional[core.Score], children []core.Score) core.Score {
		s := v.OrElse(core.ScoreFail())
		for _, c := range children {
			if s.Less(c) {
				s = c
			}
		}
		return s
	})
	if best.Compare(core.Weight(50)) != 0 {
		t.Errorf("highest score = %v, want 50", best)
	}
}

func TestSnapshot_MissingRoot(t *testing.T) {
	e := newEngine(t)
	if _, err := Snapshot[core.Score](e, 99); !errors.Is(err, runtime.ErrNodeNotFound) {
		t.Errorf("Snapshot() error = %v, want ErrNodeNotFound", err)
	}
	if _, err := Describe(e, 99); !errors.Is(err, runtime.ErrNodeNotFound) {
		t.Errorf("Describe() error = %v, want ErrNodeNotFound", err)
	}
}

func TestSnapshot_RunStateAfterSequence(t *testing.T) {
	e := newEngine(t)
	root := mustSpawn(t, e, core.NoParent, runtime.Meta{Name: "main", Kind: nodes.KindSequence}, nodes.Sequence{})
	mustSpawn(t, e, root, nodes.Return{Result: core.Success})
	mustSpawn(t, e, root, nodes.Return{Result: core.Failure})

	if _, err := e.Run(root); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := Snapshot[runtime.RunResult](e, root)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := NewTree(Some(runtime.RunResult{Result: core.Failure}),
		NewTree(Some(runtime.RunResult{Result: core.Success})),
		NewTree(Some(runtime.RunResult{Result: core.Failure})),
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe(t *testing.T) {
	e := newEngine(t)
	root := mustSpawn(t, e, core.NoParent, runtime.Meta{Name: "pick", Kind: nodes.KindUtility}, nodes.Utility{})
	low := mustSpawn(t, e, root, runtime.Meta{Kind: nodes.KindWait}, nodes.Wait{Duration: 1 << 40}, core.Weight(1))
	high := mustSpawn(t, e, root, runtime.Meta{Name: "high", Kind: nodes.KindWait}, nodes.Wait{Duration: 1 << 40}, core.Weight(2))

	if _, err := e.Run(root); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := Describe(e, root)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	states := map[core.NodeID]string{}
	got.Walk(func(_ []int, n NodeInfo) bool {
		states[n.ID] = n.State
		return true
	})
	want := map[core.NodeID]string{root: StateRunning, low: StateIdle, high: StateRunning}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}

	if got.Children[1].Value.Score != "2" {
		t.Errorf("high score = %q, want %q", got.Children[1].Value.Score, "2")
	}
	if !strings.Contains(strings.Join(got.Value.Records, ","), "nodes.Utility") {
		t.Errorf("root records = %v, want nodes.Utility among them", got.Value.Records)
	}

	text := Text(got)
	if !strings.Contains(text, "pick (utility) [running]") || !strings.Contains(text, "  high (wait) [running] score=2") {
		t.Errorf("Text() =\n%s", text)
	}

	mermaid := Mermaid(got)
	for _, want := range []string{"flowchart TD", root.String() + " --> " + low.String(), root.String() + " --> " + high.String()} {
		if !strings.Contains(mermaid, want) {
			t.Errorf("Mermaid() missing %q:\n%s", want, mermaid)
		}
	}
}
