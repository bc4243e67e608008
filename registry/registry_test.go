package registry

import (
	"sync"
	"testing"

	"github.com/petal-labs/arbor/nodes"
)

func TestGlobal_ReturnsSameInstance(t *testing.T) {
	r1 := Global()
	r2 := Global()
	if r1 != r2 {
		t.Error("Global() should return the same instance on every call")
	}
}

func TestGlobal_HasBuiltins(t *testing.T) {
	r := Global()
	if r.Len() == 0 {
		t.Fatal("Global registry should have built-in types registered")
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	def := NodeTypeDef{
		Type:        "test_node",
		Category:    CategoryLeaf,
		DisplayName: "Test Node",
		Description: "A test node",
		Config:      []ConfigField{{Name: "target", Type: "string", Required: true}},
	}

	r.Register(def)

	got, ok := r.Get("test_node")
	if !ok {
		t.Fatal("Get should find registered type")
	}
	if got.Type != "test_node" {
		t.Errorf("Type = %q, want %q", got.Type, "test_node")
	}
	if got.DisplayName != "Test Node" {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Test Node")
	}
	if len(got.Config) != 1 {
		t.Errorf("Config count = %d, want 1", len(got.Config))
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := New()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get should return false for unregistered type")
	}
	if r.Has("nonexistent") {
		t.Error("Has should return false for unregistered type")
	}
}

func TestRegistry_All_PreservesOrder(t *testing.T) {
	r := New()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		r.Register(NodeTypeDef{Type: n})
	}

	all := r.All()
	if len(all) != len(names) {
		t.Fatalf("All() count = %d, want %d", len(all), len(names))
	}
	for i, def := range all {
		if def.Type != names[i] {
			t.Errorf("All()[%d].Type = %q, want %q", i, def.Type, names[i])
		}
	}
}

func TestRegistry_RegisterOverwrite(t *testing.T) {
	r := New()
	r.Register(NodeTypeDef{Type: "x", DisplayName: "first"})
	r.Register(NodeTypeDef{Type: "x", DisplayName: "second"})

	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	got, _ := r.Get("x")
	if got.DisplayName != "second" {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "second")
	}
}

func TestRegistry_ByCategory(t *testing.T) {
	r := New()
	r.Register(NodeTypeDef{Type: "a", Category: CategoryLeaf})
	r.Register(NodeTypeDef{Type: "b", Category: CategoryComposite})
	r.Register(NodeTypeDef{Type: "c", Category: CategoryLeaf})

	leaves := r.ByCategory(CategoryLeaf)
	if len(leaves) != 2 || leaves[0].Type != "a" || leaves[1].Type != "c" {
		t.Errorf("ByCategory(leaf) = %+v, want [a c]", leaves)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(NodeTypeDef{Type: "concurrent"})
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Get("concurrent")
			r.Has("concurrent")
			r.All()
			r.ByCategory(CategoryLeaf)
			r.Len()
		}()
	}

	wg.Wait()
}

func TestNodeTypeDef_AcceptsChildren(t *testing.T) {
	tests := []struct {
		name string
		def  NodeTypeDef
		n    int
		want bool
	}{
		{"leaf with none", NodeTypeDef{}, 0, true},
		{"leaf with one", NodeTypeDef{}, 1, false},
		{"decorator with one", NodeTypeDef{MinChildren: 1, MaxChildren: 1}, 1, true},
		{"decorator with two", NodeTypeDef{MinChildren: 1, MaxChildren: 1}, 2, false},
		{"decorator with none", NodeTypeDef{MinChildren: 1, MaxChildren: 1}, 0, false},
		{"composite with many", NodeTypeDef{MaxChildren: Unbounded}, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.def.AcceptsChildren(tt.n); got != tt.want {
				t.Errorf("AcceptsChildren(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestNodeTypeDef_ChildBounds(t *testing.T) {
	tests := []struct {
		def  NodeTypeDef
		want string
	}{
		{NodeTypeDef{}, "exactly 0"},
		{NodeTypeDef{MinChildren: 1, MaxChildren: 1}, "exactly 1"},
		{NodeTypeDef{MaxChildren: Unbounded}, "at least 0"},
		{NodeTypeDef{MinChildren: 1, MaxChildren: 3}, "1 to 3"},
	}
	for _, tt := range tests {
		if got := tt.def.ChildBounds(); got != tt.want {
			t.Errorf("ChildBounds() = %q, want %q", got, tt.want)
		}
	}
}

// --- Builtin registration tests ---

func TestBuiltins_AllExpectedTypesRegistered(t *testing.T) {
	r := Global()
	expected := []string{
		nodes.KindSequence,
		nodes.KindFallback,
		nodes.KindParallel,
		nodes.KindUtility,
		nodes.KindInvert,
		nodes.KindReturn,
		nodes.KindWait,
		nodes.KindLog,
		nodes.KindAction,
		nodes.KindExec,
		nodes.KindHTTP,
	}

	for _, typeName := range expected {
		if !r.Has(typeName) {
			t.Errorf("built-in type %q not registered", typeName)
		}
	}
}

func TestBuiltins_Categories(t *testing.T) {
	r := Global()
	tests := []struct {
		typeName string
		category string
	}{
		{"sequence", CategoryComposite},
		{"fallback", CategoryComposite},
		{"parallel", CategoryComposite},
		{"utility", CategoryComposite},
		{"invert", CategoryDecorator},
		{"return", CategoryLeaf},
		{"wait", CategoryLeaf},
		{"log", CategoryLeaf},
		{"action", CategoryLeaf},
		{"exec", CategoryLeaf},
		{"http", CategoryLeaf},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			def, ok := r.Get(tt.typeName)
			if !ok {
				t.Fatalf("type %q not found", tt.typeName)
			}
			if def.Category != tt.category {
				t.Errorf("Category = %q, want %q", def.Category, tt.category)
			}
		})
	}
}

func TestBuiltins_LeavesTakeNoChildren(t *testing.T) {
	for _, def := range Global().ByCategory(CategoryLeaf) {
		if def.AcceptsChildren(1) {
			t.Errorf("leaf %q accepts children", def.Type)
		}
	}
}

func TestBuiltins_RequiredConfig(t *testing.T) {
	def, _ := Global().Get("parallel")
	if got := def.RequiredConfig(); len(got) != 1 || got[0] != "policy" {
		t.Errorf("parallel RequiredConfig() = %v, want [policy]", got)
	}
	def, _ = Global().Get("sequence")
	if got := def.RequiredConfig(); len(got) != 0 {
		t.Errorf("sequence RequiredConfig() = %v, want none", got)
	}
}

func TestBuiltins_AllHaveDisplayName(t *testing.T) {
	r := Global()
	for _, def := range r.All() {
		if def.DisplayName == "" {
			t.Errorf("type %q has empty display name", def.Type)
		}
		if def.Description == "" {
			t.Errorf("type %q has empty description", def.Type)
		}
	}
}
