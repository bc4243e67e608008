package graph

import (
	"errors"
	"fmt"
)

// ErrNotATree is returned by FromDirected for graphs that do not describe a
// single rooted tree.
var ErrNotATree = errors.New("directed graph is not a tree")

// Directed is the flat form of a Tree. Nodes are numbered in pre-order, so
// the root is Nodes[0], and Edges list parent-to-child links with the
// children of each parent in order.
type Directed[T any] struct {
	Nodes []T    `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Edge links Nodes[From] to its child Nodes[To].
type Edge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ToDirected flattens t. FromDirected(ToDirected(t)) is equal to t.
func ToDirected[T any](t Tree[T]) Directed[T] {
	n := t.Len()
	g := Directed[T]{
		Nodes: make([]T, 0, n),
		Edges: make([]Edge, 0, n-1),
	}
	flatten(&g, t, -1)
	return g
}

func flatten[T any](g *Directed[T], t Tree[T], parent int) {
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, t.Value)
	if parent >= 0 {
		g.Edges = append(g.Edges, Edge{From: parent, To: idx})
	}
	for _, c := range t.Children {
		flatten(g, c, idx)
	}
}

// FromDirected rebuilds the tree rooted at Nodes[0]. Every other node must
// have exactly one parent and be reachable from the root; the children of a
// node are ordered as their edges appear in Edges.
func FromDirected[T any](g Directed[T]) (Tree[T], error) {
	if len(g.Nodes) == 0 {
		return Tree[T]{}, fmt.Errorf("no nodes: %w", ErrNotATree)
	}

	children := make([][]int, len(g.Nodes))
	parents := make([]int, len(g.Nodes))
	for i, edge := range g.Edges {
		if edge.From < 0 || edge.From >= len(g.Nodes) || edge.To < 0 || edge.To >= len(g.Nodes) {
			return Tree[T]{}, fmt.Errorf("edges[%d] %d->%d out of range: %w", i, edge.From, edge.To, ErrNotATree)
		}
		if edge.To == 0 {
			return Tree[T]{}, fmt.Errorf("edges[%d] points at the root: %w", i, ErrNotATree)
		}
		parents[edge.To]++
		if parents[edge.To] > 1 {
			return Tree[T]{}, fmt.Errorf("node %d has more than one parent: %w", edge.To, ErrNotATree)
		}
		children[edge.From] = append(children[edge.From], edge.To)
	}

	// With one parent per node, anything unreachable from the root sits on
	// a detached cycle or has no parent at all.
	seen := make([]bool, len(g.Nodes))
	stack := []int{0}
	reached := 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		seen[cur] = true
		reached++
		stack = append(stack, children[cur]...)
	}
	if reached != len(g.Nodes) {
		for i, ok := range seen {
			if !ok {
				return Tree[T]{}, fmt.Errorf("node %d is not reachable from the root: %w", i, ErrNotATree)
			}
		}
	}

	return assemble(g.Nodes, children, 0), nil
}

func assemble[T any](values []T, children [][]int, idx int) Tree[T] {
	t := Tree[T]{Value: values[idx]}
	if len(children[idx]) > 0 {
		t.Children = make([]Tree[T], len(children[idx]))
		for i, c := range children[idx] {
			t.Children[i] = assemble(values, children, c)
		}
	}
	return t
}
