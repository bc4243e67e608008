package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/registry"
)

func testdataPath(name string) string {
	return filepath.Join("testdata", name)
}

func TestLoadTree_AllFormatsAgree(t *testing.T) {
	want, err := LoadTree(testdataPath("tree.json"))
	if err != nil {
		t.Fatalf("LoadTree(json) error = %v", err)
	}
	if want.ID != "patrol" || want.Root.Name != "main" || len(want.Root.Children) != 2 {
		t.Fatalf("unexpected tree %+v", want)
	}

	for _, name := range []string{"tree.yaml", "tree.hcl"} {
		t.Run(name, func(t *testing.T) {
			got, err := LoadTree(testdataPath(name))
			if err != nil {
				t.Fatalf("LoadTree() error = %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%s differs from tree.json (-json +%s):\n%s", name, name, diff)
			}
		})
	}
}

func TestLoadTree_Directed(t *testing.T) {
	td, err := LoadTree(testdataPath("directed.json"))
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	want := &graph.TreeDefinition{
		ID: "flat",
		Root: graph.NodeDef{Name: "main", Type: "sequence", Children: []graph.NodeDef{
			{Name: "a", Type: "return"},
			{Name: "b", Type: "log", Config: map[string]any{"message": "hi"}},
		}},
	}
	if diff := cmp.Diff(want, td); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTree_HCLScoresAndLists(t *testing.T) {
	td, err := LoadTree(testdataPath("scored.hcl"))
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	low, high := td.Root.Children[0], td.Root.Children[1]
	if low.Score != "40" || high.Score != "pass" {
		t.Errorf("scores = %q, %q", low.Score, high.Score)
	}
	want := map[string]any{"command": []any{"echo", "hi"}, "timeout": "5s"}
	if diff := cmp.Diff(want, high.Config); diff != "" {
		t.Errorf("exec config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTree_DiagnosticsWithLines(t *testing.T) {
	_, err := LoadTree(testdataPath("invalid.yaml"))
	var diagErr *graph.DiagnosticError
	if !errors.As(err, &diagErr) {
		t.Fatalf("LoadTree() error = %v, want *graph.DiagnosticError", err)
	}

	type codeLine struct {
		Code string
		Line int
	}
	var got []codeLine
	for _, d := range diagErr.Diagnostics {
		got = append(got, codeLine{d.Code, d.Line})
	}
	want := []codeLine{{"TR-007", 5}, {"TR-003", 8}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_JSONLines(t *testing.T) {
	data := []byte("{\n  \"id\": \"x\",\n  \"root\": {\n    \"type\": \"invert\"\n  }\n}\n")
	_, diags, err := Validate(data, "inline.json", registry.Global())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(diags) != 1 || diags[0].Code != "TR-004" || diags[0].Line != 3 {
		t.Errorf("diags = %+v, want TR-004 on line 3", diags)
	}
}

func TestLoadTree_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.json")},
		{"unknown schema", testdataPath("unknown.json")},
		{"bad hcl syntax", write("bad.hcl", `node "sequence" {`)},
		{"two hcl roots", write("two.hcl", "id = \"x\"\nnode \"sequence\" {}\nnode \"fallback\" {}\n")},
		{"hcl config not object", write("cfg.hcl", "id = \"x\"\nnode \"log\" {\n  config = \"message\"\n}\n")},
		{"directed cycle", write("cycle.json", `{"nodes": [{"type": "sequence"}, {"type": "return"}], "edges": [{"from": 1, "to": 1}]}`)},
		{"wrong field type", write("types.json", `{"root": {"type": 5}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTree(tt.path); err == nil {
				t.Error("LoadTree() error = nil")
			}
		})
	}

	if _, err := LoadTree(filepath.Join(dir, "nope.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want os.ErrNotExist", err)
	}
}
