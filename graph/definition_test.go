package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/registry"
	"github.com/petal-labs/arbor/runtime"
)

func sampleDefinition() TreeDefinition {
	return TreeDefinition{
		ID:      "patrol",
		Version: "1.0",
		Root: NodeDef{
			Name: "main",
			Type: "fallback",
			Children: []NodeDef{
				{
					Name: "guard",
					Type: "sequence",
					Children: []NodeDef{
						{Name: "check", Type: "return", Config: map[string]any{"result": "failure"}},
						{Name: "act", Type: "log", Config: map[string]any{"message": "acting"}},
					},
				},
				{Name: "idle", Type: "return", Repeat: &RepeatDef{Mode: "times", Count: 2}},
			},
		},
	}
}

func codes(diags []Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func TestTreeDefinition_JSONRoundTrip(t *testing.T) {
	td := sampleDefinition()
	data, err := json.Marshal(td)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got TreeDefinition
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(td, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeDefinition_WalkPaths(t *testing.T) {
	td := sampleDefinition()
	var paths []string
	td.Walk(func(path string, _ NodeDef) bool {
		paths = append(paths, path)
		return true
	})
	want := []string{"root", "root.children[0]", "root.children[0].children[0]", "root.children[0].children[1]", "root.children[1]"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeDefinition_Tree(t *testing.T) {
	td := sampleDefinition()
	tr := td.Tree()
	if tr.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", tr.Len())
	}
	names := Map(tr, func(d NodeDef) string { return d.Name })
	want := NewTree("main", NewTree("guard", NewTree("check"), NewTree("act")), NewTree("idle"))
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if tr.Value.Children != nil {
		t.Error("tree values should not carry children")
	}
}

func TestTreeDefinition_Validate(t *testing.T) {
	tests := []struct {
		name string
		root NodeDef
		want []string
	}{
		{
			name: "valid",
			root: sampleDefinition().Root,
		},
		{
			name: "missing type",
			root: NodeDef{Type: "sequence", Children: []NodeDef{{Name: "x"}}},
			want: []string{"TR-001"},
		},
		{
			name: "duplicate name",
			root: NodeDef{Name: "a", Type: "sequence", Children: []NodeDef{{Name: "a", Type: "return"}}},
			want: []string{"TR-002"},
		},
		{
			name: "bad score",
			root: NodeDef{Type: "utility", Children: []NodeDef{{Type: "return", Score: "lots"}}},
			want: []string{"TR-005"},
		},
		{
			name: "NaN score",
			root: NodeDef{Type: "utility", Children: []NodeDef{{Type: "return", Score: "NaN"}}},
			want: []string{"TR-005"},
		},
		{
			name: "bad repeat mode",
			root: NodeDef{Type: "return", Repeat: &RepeatDef{Mode: "sometimes"}},
			want: []string{"TR-006"},
		},
		{
			name: "times without count",
			root: NodeDef{Type: "return", Repeat: &RepeatDef{Mode: "times"}},
			want: []string{"TR-006"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := TreeDefinition{ID: "t", Root: tt.root}
			if diff := cmp.Diff(tt.want, codes(td.Validate())); diff != "" {
				t.Errorf("codes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTreeDefinition_ValidateWithRegistry(t *testing.T) {
	tests := []struct {
		name string
		root NodeDef
		want []string
	}{
		{
			name: "valid",
			root: sampleDefinition().Root,
		},
		{
			name: "unknown type",
			root: NodeDef{Type: "teleport"},
			want: []string{"TR-003"},
		},
		{
			name: "leaf with children",
			root: NodeDef{Type: "return", Children: []NodeDef{{Type: "return"}}},
			want: []string{"TR-004"},
		},
		{
			name: "invert needs one child",
			root: NodeDef{Type: "invert"},
			want: []string{"TR-004"},
		},
		{
			name: "parallel needs policy",
			root: NodeDef{Type: "parallel", Children: []NodeDef{{Type: "return"}}},
			want: []string{"TR-007"},
		},
		{
			name: "empty sequence warns",
			root: NodeDef{Type: "sequence"},
			want: []string{"TR-008"},
		},
		{
			name: "structural errors first",
			root: NodeDef{Type: "sequence", Children: []NodeDef{{Name: "x"}, {Name: "x", Type: "nope"}}},
			want: []string{"TR-001", "TR-002", "TR-003"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := TreeDefinition{ID: "t", Root: tt.root}
			diags := td.ValidateWithRegistry(registry.Global())
			if diff := cmp.Diff(tt.want, codes(diags)); diff != "" {
				t.Errorf("codes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiagnostics_Filters(t *testing.T) {
	td := TreeDefinition{Root: NodeDef{Type: "sequence", Children: []NodeDef{{Type: "fallback"}, {Type: "nope"}}}}
	diags := td.ValidateWithRegistry(registry.Global())
	if !HasErrors(diags) {
		t.Fatal("HasErrors() = false")
	}
	if got := codes(Errors(diags)); !cmp.Equal(got, []string{"TR-003"}) {
		t.Errorf("Errors() = %v", got)
	}
	if got := codes(Warnings(diags)); !cmp.Equal(got, []string{"TR-008"}) {
		t.Errorf("Warnings() = %v", got)
	}
	if HasErrors(Warnings(diags)) {
		t.Error("warnings reported as errors")
	}
}

// testFactory maps the built-in types used in these tests to records.
func testFactory(def NodeDef) ([]any, error) {
	switch def.Type {
	case nodes.KindSequence:
		return []any{nodes.Sequence{}}, nil
	case nodes.KindFallback:
		return []any{nodes.Fallback{}}, nil
	case nodes.KindUtility:
		return []any{nodes.Utility{}}, nil
	case nodes.KindLog:
		msg, _ := def.Config["message"].(string)
		return []any{nodes.Log{Message: msg}}, nil
	case nodes.KindReturn:
		r := core.Success
		if s, ok := def.Config["result"].(string); ok {
			var err error
			if r, err = core.ParseResult(s); err != nil {
				return nil, err
			}
		}
		return []any{nodes.Return{Result: r}}, nil
	}
	return nil, fmt.Errorf("unsupported type %q", def.Type)
}

func TestTreeDefinition_Build(t *testing.T) {
	e := newEngine(t)
	td := sampleDefinition()

	root, err := td.Build(e, WithNodeFactory(testFactory))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if e.Len() != 5 {
		t.Fatalf("engine has %d nodes, want 5", e.Len())
	}

	info, err := Describe(e, root)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	names := Map(info, func(n NodeInfo) string { return n.Name + ":" + n.Kind })
	want := NewTree("main:fallback",
		NewTree("guard:sequence", NewTree("check:return"), NewTree("act:log")),
		NewTree("idle:return"),
	)
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("built tree mismatch (-want +got):\n%s", diff)
	}

	idle := e.Children(root)[1]
	rep, ok := runtime.Get[nodes.Repeat](e, idle)
	if !ok || rep.Mode != nodes.RepeatTimes || rep.Count != 2 {
		t.Errorf("idle repeat = %+v, %v", rep, ok)
	}
}

func TestTreeDefinition_BuildScoresAndRun(t *testing.T) {
	e := newEngine(t)
	td := TreeDefinition{Root: NodeDef{Type: "utility", Children: []NodeDef{
		{Name: "low", Type: "return", Score: "40", Config: map[string]any{"result": "failure"}},
		{Name: "high", Type: "return", Score: "50"},
	}}}
	root, err := td.Build(e, WithNodeFactory(testFactory))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := e.Run(root); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r, _ := e.ResultOf(root); r != core.Success {
		t.Errorf("root result = %v, want success", r)
	}
}

func TestTreeDefinition_BuildUnderParent(t *testing.T) {
	e := newEngine(t)
	parent := mustSpawn(t, e, core.NoParent, nodes.Sequence{})
	td := TreeDefinition{Root: NodeDef{Type: "return"}}
	id, err := td.Build(e, WithNodeFactory(testFactory), WithParent(parent))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p, _ := e.Parent(id); p != parent {
		t.Errorf("parent = %v, want %v", p, parent)
	}
}

func TestTreeDefinition_BuildErrors(t *testing.T) {
	e := newEngine(t)
	td := sampleDefinition()

	if _, err := td.Build(e); !errors.Is(err, ErrNoFactory) {
		t.Errorf("Build() without factory error = %v, want ErrNoFactory", err)
	}

	boom := errors.New("boom")
	_, err := td.Build(e, WithNodeFactory(func(def NodeDef) ([]any, error) {
		if def.Name == "act" {
			return nil, boom
		}
		return testFactory(def)
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("Build() error = %v, want boom", err)
	}
	if e.Len() != 0 {
		t.Errorf("engine has %d nodes after failed build, want 0", e.Len())
	}
}

func TestTreeDefinition_DirectedRoundTrip(t *testing.T) {
	td := sampleDefinition()
	td.Metadata = map[string]string{"owner": "ops"}

	dd := td.Directed()
	if len(dd.Nodes) != 5 || len(dd.Edges) != 4 {
		t.Fatalf("directed has %d nodes, %d edges", len(dd.Nodes), len(dd.Edges))
	}
	if dd.Nodes[0].Name != "main" || dd.Nodes[0].Children != nil {
		t.Errorf("Nodes[0] = %+v, want main without inline children", dd.Nodes[0])
	}

	data, err := json.Marshal(dd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded DirectedDefinition
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back, err := decoded.Definition()
	if err != nil {
		t.Fatalf("Definition() error = %v", err)
	}
	if diff := cmp.Diff(&td, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectedDefinition_RejectsInlineChildren(t *testing.T) {
	dd := DirectedDefinition{Nodes: []NodeDef{{Type: "sequence", Children: []NodeDef{{Type: "return"}}}}}
	if _, err := dd.Definition(); !errors.Is(err, ErrNotATree) {
		t.Errorf("Definition() error = %v, want ErrNotATree", err)
	}
}
