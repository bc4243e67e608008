package graph

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestToDirected_PreOrderNumbering(t *testing.T) {
	g := ToDirected(sampleTree())

	wantNodes := []string{"root", "a", "a1", "a2", "b", "c", "c1", "c1x"}
	if diff := cmp.Diff(wantNodes, g.Nodes); diff != "" {
		t.Errorf("Nodes mismatch (-want +got):\n%s", diff)
	}
	wantEdges := []Edge{
		{0, 1}, {1, 2}, {1, 3}, {0, 4}, {0, 5}, {5, 6}, {6, 7},
	}
	if diff := cmp.Diff(wantEdges, g.Edges); diff != "" {
		t.Errorf("Edges mismatch (-want +got):\n%s", diff)
	}
}

func TestDirected_RoundTrip(t *testing.T) {
	trees := map[string]Tree[string]{
		"single": NewTree("only"),
		"sample": sampleTree(),
		"wide":   NewTree("r", NewTree("1"), NewTree("2"), NewTree("3"), NewTree("4")),
		"deep":   NewTree("1", NewTree("2", NewTree("3", NewTree("4", NewTree("5"))))),
		"dupes":  NewTree("x", NewTree("x"), NewTree("x", NewTree("x"))),
	}
	for name, tr := range trees {
		t.Run(name, func(t *testing.T) {
			g := ToDirected(tr)
			if len(g.Nodes) != tr.Len() || len(g.Edges) != tr.Len()-1 {
				t.Fatalf("graph has %d nodes, %d edges for %d-node tree", len(g.Nodes), len(g.Edges), tr.Len())
			}
			back, err := FromDirected(g)
			if err != nil {
				t.Fatalf("FromDirected() error = %v", err)
			}
			if diff := cmp.Diff(tr, back); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDirected_RoundTripThroughJSON(t *testing.T) {
	tr := Map(sampleTree(), func(s string) Optional[string] {
		if len(s) > 2 {
			return None[string]()
		}
		return Some(s)
	})
	data, err := json.Marshal(ToDirected(tr))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var g Directed[Optional[string]]
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back, err := FromDirected(g)
	if err != nil {
		t.Fatalf("FromDirected() error = %v", err)
	}
	if diff := cmp.Diff(tr, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromDirected_ChildOrderFollowsEdges(t *testing.T) {
	g := Directed[string]{
		Nodes: []string{"r", "x", "y"},
		Edges: []Edge{{0, 2}, {0, 1}},
	}
	got, err := FromDirected(g)
	if err != nil {
		t.Fatalf("FromDirected() error = %v", err)
	}
	want := NewTree("r", NewTree("y"), NewTree("x"))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFromDirected_Rejects(t *testing.T) {
	tests := []struct {
		name string
		g    Directed[int]
	}{
		{"empty", Directed[int]{}},
		{"out of range", Directed[int]{Nodes: []int{0, 1}, Edges: []Edge{{0, 5}}}},
		{"negative", Directed[int]{Nodes: []int{0, 1}, Edges: []Edge{{-1, 1}}}},
		{"edge into root", Directed[int]{Nodes: []int{0, 1}, Edges: []Edge{{0, 1}, {1, 0}}}},
		{"two parents", Directed[int]{Nodes: []int{0, 1, 2}, Edges: []Edge{{0, 1}, {0, 2}, {1, 2}}}},
		{"unreachable", Directed[int]{Nodes: []int{0, 1, 2}, Edges: []Edge{{0, 1}}}},
		{"detached cycle", Directed[int]{Nodes: []int{0, 1, 2}, Edges: []Edge{{1, 2}, {2, 1}}}},
		{"self loop", Directed[int]{Nodes: []int{0, 1}, Edges: []Edge{{1, 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromDirected(tt.g); !errors.Is(err, ErrNotATree) {
				t.Errorf("FromDirected() error = %v, want ErrNotATree", err)
			}
		})
	}
}
