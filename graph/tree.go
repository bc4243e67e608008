// Package graph converts between the live node store and immutable values:
// snapshots of a subtree, their directed-graph form for export, and the
// serializable tree definitions that are built into an engine.
package graph

// Tree is an immutable value tree. Children are ordered.
type Tree[T any] struct {
	Value    T         `json:"value"`
	Children []Tree[T] `json:"children,omitempty"`
}

// NewTree returns a tree with the given root value and children.
func NewTree[T any](v T, children ...Tree[T]) Tree[T] {
	return Tree[T]{Value: v, Children: children}
}

// Len returns the number of nodes in t.
func (t Tree[T]) Len() int {
	n := 1
	for _, c := range t.Children {
		n += c.Len()
	}
	return n
}

// Depth returns the number of levels in t; a single node has depth 1.
func (t Tree[T]) Depth() int {
	d := 0
	for _, c := range t.Children {
		d = max(d, c.Depth())
	}
	return d + 1
}

// Walk visits t in pre-order. path holds the child indexes leading from the
// root to the visited node and must not be retained. Returning false from fn
// skips the node's subtree.
func (t Tree[T]) Walk(fn func(path []int, v T) bool) {
	t.walk(nil, fn)
}

func (t Tree[T]) walk(path []int, fn func([]int, T) bool) {
	if !fn(path, t.Value) {
		return
	}
	for i, c := range t.Children {
		c.walk(append(path, i), fn)
	}
}

// Fold reduces t bottom-up: fn receives a node's value and the folded values
// of its children, in order.
func Fold[T, A any](t Tree[T], fn func(v T, children []A) A) A {
	acc := make([]A, len(t.Children))
	for i, c := range t.Children {
		acc[i] = Fold(c, fn)
	}
	return fn(t.Value, acc)
}

// Map returns a tree of the same shape with every value passed through fn.
func Map[T, U any](t Tree[T], fn func(T) U) Tree[U] {
	out := Tree[U]{Value: fn(t.Value)}
	if len(t.Children) > 0 {
		out.Children = make([]Tree[U], len(t.Children))
		for i, c := range t.Children {
			out.Children[i] = Map(c, fn)
		}
	}
	return out
}

// Optional holds a value that may be absent.
type Optional[T any] struct {
	Value T    `json:"value,omitempty"`
	Valid bool `json:"valid"`
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if o.Valid {
		return o.Value
	}
	return def
}
