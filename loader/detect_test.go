package loader

import "testing"

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		data string
		want Format
	}{
		{"tree.yaml", "", FormatYAML},
		{"tree.YML", "", FormatYAML},
		{"tree.json", "", FormatJSON},
		{"tree.hcl", "", FormatHCL},
		{"-", `  {"root": {}}`, FormatJSON},
		{"tree", "root:\n  type: sequence\n", FormatYAML},
	}
	for _, tt := range tests {
		if got := DetectFormat([]byte(tt.data), tt.path); got != tt.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDetectSchema(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		data    string
		want    SchemaKind
		wantErr bool
	}{
		{"tree json", "t.json", `{"id": "x", "root": {"type": "sequence"}}`, SchemaKindTree, false},
		{"tree yaml", "t.yaml", "root:\n  type: sequence\n", SchemaKindTree, false},
		{"directed json", "t.json", `{"nodes": [], "edges": []}`, SchemaKindDirected, false},
		{"directed yaml", "t.yml", "nodes: []\nedges: []\n", SchemaKindDirected, false},
		{"hcl", "t.hcl", `node "sequence" {}`, SchemaKindTree, false},
		{"nodes without edges", "t.json", `{"nodes": []}`, "", true},
		{"invalid json", "t.json", `{not json`, "", true},
		{"invalid yaml", "t.yaml", "root: [unclosed", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectSchema([]byte(tt.data), tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectSchema() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestYAMLToJSON(t *testing.T) {
	got, err := yamlToJSON([]byte("id: x\ncount: 2\nlist: [a, b]\n"))
	if err != nil {
		t.Fatalf("yamlToJSON() error = %v", err)
	}
	want := `{"count":2,"id":"x","list":["a","b"]}`
	if string(got) != want {
		t.Errorf("yamlToJSON() = %s, want %s", got, want)
	}
}
