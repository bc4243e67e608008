// Package registry provides the catalogue of node types a tree definition may
// use. It maps type names to metadata (category, child bounds, config fields)
// used by the definition validator, the CLI and the daemon's admin API.
//
// The catalogue holds descriptions only. Behavior lives in package nodes and
// is bound to type names by package hydrate.
package registry

import (
	"fmt"
	"sync"
)

// Categories of node types.
const (
	CategoryComposite = "composite"
	CategoryDecorator = "decorator"
	CategoryLeaf      = "leaf"
)

// Unbounded as MaxChildren allows any number of children.
const Unbounded = -1

// NodeTypeDef describes a registered node type.
type NodeTypeDef struct {
	Type        string        `json:"type"`
	Category    string        `json:"category"` // "composite", "decorator", "leaf"
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	MinChildren int           `json:"min_children"`
	MaxChildren int           `json:"max_children"` // Unbounded for no limit
	Config      []ConfigField `json:"config,omitempty"`
}

// ConfigField describes one key of a node's config map.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "duration", "bool", "list", "map"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// AcceptsChildren reports whether n children are within the type's bounds.
func (d NodeTypeDef) AcceptsChildren(n int) bool {
	if n < d.MinChildren {
		return false
	}
	return d.MaxChildren == Unbounded || n <= d.MaxChildren
}

// ChildBounds describes the accepted number of children, e.g. "1", "0" or
// "at least 1".
func (d NodeTypeDef) ChildBounds() string {
	switch {
	case d.MaxChildren == Unbounded:
		return fmt.Sprintf("at least %d", d.MinChildren)
	case d.MinChildren == d.MaxChildren:
		return fmt.Sprintf("exactly %d", d.MinChildren)
	default:
		return fmt.Sprintf("%d to %d", d.MinChildren, d.MaxChildren)
	}
}

// RequiredConfig returns the names of the required config fields.
func (d NodeTypeDef) RequiredConfig() []string {
	var names []string
	for _, f := range d.Config {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers all built-in node types.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
		registerBuiltins(global)
	})
	return global
}

// Registry holds all known node types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]NodeTypeDef
	order []string // preserves registration order
}

// New returns an empty registry. Most callers want Global.
func New() *Registry {
	return &Registry{
		types: make(map[string]NodeTypeDef),
	}
}

// Register adds a node type definition. If a type with the same name
// already exists it is overwritten.
func (r *Registry) Register(def NodeTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.types[def.Type] = def
}

// Get returns a node type definition by type name.
func (r *Registry) Get(typeName string) (NodeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[typeName]
	return def, ok
}

// Has returns true if the type name is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeName]
	return ok
}

// All returns all registered node types in registration order.
// Used by the daemon's GET /types endpoint.
func (r *Registry) All() []NodeTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeTypeDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// ByCategory returns the registered types of one category in registration
// order.
func (r *Registry) ByCategory(category string) []NodeTypeDef {
	var result []NodeTypeDef
	for _, def := range r.All() {
		if def.Category == category {
			result = append(result, def)
		}
	}
	return result
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
