package graph

import (
	"errors"
	"fmt"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/registry"
	"github.com/petal-labs/arbor/runtime"
)

// Diagnostic represents a validation error or warning produced by tree
// definition validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "TR-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // path to offending field
	Line     int    `json:"line,omitempty"` // source line number (0 if unavailable)
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := Errors(e.Diagnostics)
	switch len(errs) {
	case 0:
		return "validation failed"
	case 1:
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	default:
		return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
	}
}

// TreeDefinition is the serializable form of a behavior tree. The loader
// produces it from YAML, JSON or HCL files; Build turns it into engine nodes.
type TreeDefinition struct {
	ID       string            `json:"id"`
	Version  string            `json:"version,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Root     NodeDef           `json:"root"`
}

// NodeDef is a serializable node within a TreeDefinition.
type NodeDef struct {
	Name     string         `json:"name,omitempty"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
	Score    string         `json:"score,omitempty"` // static core.Score, e.g. "40", "pass"
	Repeat   *RepeatDef     `json:"repeat,omitempty"`
	Children []NodeDef      `json:"children,omitempty"`
}

// RepeatDef configures the Repeat decorator of a node.
type RepeatDef struct {
	Mode  string `json:"mode"`
	Count int    `json:"count,omitempty"`
}

// Repeat converts the definition into a validated nodes.Repeat record.
func (r RepeatDef) Repeat() (nodes.Repeat, error) {
	mode, err := nodes.ParseRepeatMode(r.Mode)
	if err != nil {
		return nodes.Repeat{}, err
	}
	rep := nodes.Repeat{Mode: mode, Count: r.Count}
	if err := rep.Validate(); err != nil {
		return nodes.Repeat{}, err
	}
	return rep, nil
}

// Walk visits every node definition in pre-order with its path, e.g.
// "root.children[1]". Returning false skips the node's children.
func (td *TreeDefinition) Walk(fn func(path string, def NodeDef) bool) {
	walkDef("root", td.Root, fn)
}

func walkDef(path string, def NodeDef, fn func(string, NodeDef) bool) {
	if !fn(path, def) {
		return
	}
	for i, c := range def.Children {
		walkDef(fmt.Sprintf("%s.children[%d]", path, i), c, fn)
	}
}

// Tree returns the definition as a value tree of node definitions with their
// Children fields cleared.
func (td *TreeDefinition) Tree() Tree[NodeDef] {
	var conv func(NodeDef) Tree[NodeDef]
	conv = func(def NodeDef) Tree[NodeDef] {
		t := Tree[NodeDef]{Value: def}
		t.Value.Children = nil
		for _, c := range def.Children {
			t.Children = append(t.Children, conv(c))
		}
		return t
	}
	return conv(td.Root)
}

// Validate checks structural integrity of the TreeDefinition.
// It checks rules that can be verified without a node registry:
//   - TR-001: every node has a type
//   - TR-002: node names are unique
//   - TR-005: scores parse
//   - TR-006: repeat configuration is valid
//
// Registry-dependent rules (TR-003, TR-004, TR-007, TR-008) are checked via
// ValidateWithRegistry.
func (td *TreeDefinition) Validate() []Diagnostic {
	var diags []Diagnostic
	names := make(map[string]string)

	td.Walk(func(path string, def NodeDef) bool {
		if def.Type == "" {
			diags = append(diags, Diagnostic{
				Code:     "TR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %s has no type", describeDef(path, def)),
				Path:     path + ".type",
			})
		}

		if def.Name != "" {
			if first, dup := names[def.Name]; dup {
				diags = append(diags, Diagnostic{
					Code:     "TR-002",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Duplicate node name %q (first used at %s)", def.Name, first),
					Path:     path + ".name",
				})
			} else {
				names[def.Name] = path
			}
		}

		if def.Score != "" {
			if _, err := core.ParseScore(def.Score); err != nil {
				diags = append(diags, Diagnostic{
					Code:     "TR-005",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Node %s has an invalid score: %v", describeDef(path, def), err),
					Path:     path + ".score",
				})
			}
		}

		if def.Repeat != nil {
			if _, err := def.Repeat.Repeat(); err != nil {
				diags = append(diags, Diagnostic{
					Code:     "TR-006",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Node %s has an invalid repeat: %v", describeDef(path, def), err),
					Path:     path + ".repeat",
				})
			}
		}
		return true
	})

	return diags
}

// ValidateWithRegistry runs structural validation plus registry-dependent checks:
//   - TR-003: node type must exist in the registry
//   - TR-004: number of children must be within the type's bounds
//   - TR-007: required config keys must be present
//   - TR-008: composites without children (warning)
func (td *TreeDefinition) ValidateWithRegistry(reg *registry.Registry) []Diagnostic {
	diags := td.Validate()
	if reg == nil {
		return diags
	}

	td.Walk(func(path string, def NodeDef) bool {
		if def.Type == "" {
			return true
		}
		typeDef, ok := reg.Get(def.Type)
		if !ok {
			diags = append(diags, Diagnostic{
				Code:     "TR-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %s references unknown type %q", describeDef(path, def), def.Type),
				Path:     path + ".type",
			})
			return true
		}

		if !typeDef.AcceptsChildren(len(def.Children)) {
			diags = append(diags, Diagnostic{
				Code:     "TR-004",
				Severity: SeverityError,
				Message: fmt.Sprintf("Node %s (type %q) has %d children, want %s",
					describeDef(path, def), def.Type, len(def.Children), typeDef.ChildBounds()),
				Path: path + ".children",
			})
		}

		for _, key := range typeDef.RequiredConfig() {
			if _, ok := def.Config[key]; !ok {
				diags = append(diags, Diagnostic{
					Code:     "TR-007",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Node %s (type %q) is missing config key %q", describeDef(path, def), def.Type, key),
					Path:     path + ".config." + key,
				})
			}
		}

		if typeDef.Category == registry.CategoryComposite && len(def.Children) == 0 {
			diags = append(diags, Diagnostic{
				Code:     "TR-008",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Composite %s (type %q) has no children", describeDef(path, def), def.Type),
				Path:     path + ".children",
			})
		}
		return true
	})

	return diags
}

func describeDef(path string, def NodeDef) string {
	if def.Name != "" {
		return fmt.Sprintf("%q", def.Name)
	}
	return path
}

// NodeFactory returns the data records that give the node described by def
// its behavior. Meta, Score and Repeat records are added by Build.
type NodeFactory func(def NodeDef) ([]any, error)

// BuildOption configures how a TreeDefinition is built into an engine.
type BuildOption func(*buildConfig)

type buildConfig struct {
	nodeFactory NodeFactory
	parent      core.NodeID
}

// WithNodeFactory sets the function used to turn node definitions into data
// records. Typically provided by the hydrate package.
func WithNodeFactory(factory NodeFactory) BuildOption {
	return func(c *buildConfig) {
		c.nodeFactory = factory
	}
}

// WithParent builds the tree as a subtree of parent instead of as a root.
func WithParent(parent core.NodeID) BuildOption {
	return func(c *buildConfig) {
		c.parent = parent
	}
}

// ErrNoFactory is returned by Build without WithNodeFactory.
var ErrNoFactory = errors.New("node factory is required: use WithNodeFactory")

// Build spawns the nodes of the definition in e and returns the root id.
// On error, every node spawned so far is destroyed.
func (td *TreeDefinition) Build(e *runtime.Engine, opts ...BuildOption) (core.NodeID, error) {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.nodeFactory == nil {
		return core.NoParent, ErrNoFactory
	}

	var root core.NodeID
	var build func(path string, parent core.NodeID, def NodeDef) error
	build = func(path string, parent core.NodeID, def NodeDef) error {
		records, err := cfg.nodeFactory(def)
		if err != nil {
			return fmt.Errorf("creating node %s (type %q): %w", describeDef(path, def), def.Type, err)
		}
		data := append([]any{runtime.Meta{Name: def.Name, Kind: def.Type}}, records...)
		if def.Score != "" {
			score, err := core.ParseScore(def.Score)
			if err != nil {
				return fmt.Errorf("node %s score: %w", describeDef(path, def), err)
			}
			data = append(data, score)
		}
		if def.Repeat != nil {
			rep, err := def.Repeat.Repeat()
			if err != nil {
				return fmt.Errorf("node %s: %w", describeDef(path, def), err)
			}
			data = append(data, rep)
		}

		id, err := e.Spawn(parent, data...)
		if err != nil {
			return fmt.Errorf("spawning node %s: %w", describeDef(path, def), err)
		}
		if !root.Valid() {
			root = id
		}
		for i, c := range def.Children {
			if err := build(fmt.Sprintf("%s.children[%d]", path, i), id, c); err != nil {
				return err
			}
		}
		return nil
	}

	if err := build("root", cfg.parent, td.Root); err != nil {
		if root.Valid() {
			_ = e.Destroy(root)
		}
		return core.NoParent, err
	}
	return root, nil
}

// DirectedDefinition is the flat form of a TreeDefinition, with node
// definitions numbered in pre-order and parent-to-child edges.
type DirectedDefinition struct {
	ID       string            `json:"id"`
	Version  string            `json:"version,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Nodes    []NodeDef         `json:"nodes"`
	Edges    []Edge            `json:"edges"`
}

// Directed flattens the definition.
func (td *TreeDefinition) Directed() DirectedDefinition {
	g := ToDirected(td.Tree())
	return DirectedDefinition{
		ID:       td.ID,
		Version:  td.Version,
		Metadata: td.Metadata,
		Nodes:    g.Nodes,
		Edges:    g.Edges,
	}
}

// Definition rebuilds the nested definition. Children listed on the flat
// nodes themselves are an error.
func (dd DirectedDefinition) Definition() (*TreeDefinition, error) {
	for i, n := range dd.Nodes {
		if len(n.Children) > 0 {
			return nil, fmt.Errorf("nodes[%d] lists children inline: %w", i, ErrNotATree)
		}
	}
	t, err := FromDirected(Directed[NodeDef]{Nodes: dd.Nodes, Edges: dd.Edges})
	if err != nil {
		return nil, err
	}
	root := Fold(t, func(def NodeDef, children []NodeDef) NodeDef {
		if len(children) > 0 {
			def.Children = children
		}
		return def
	})
	return &TreeDefinition{
		ID:       dd.ID,
		Version:  dd.Version,
		Metadata: dd.Metadata,
		Root:     root,
	}, nil
}
