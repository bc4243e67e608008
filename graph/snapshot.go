package graph

import (
	"fmt"
	"reflect"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// Snapshot captures, for every node of the subtree at root, the T record it
// currently carries.
func Snapshot[T any](e *runtime.Engine, root core.NodeID) (Tree[Optional[T]], error) {
	if !e.Exists(root) {
		return Tree[Optional[T]]{}, fmt.Errorf("snapshot %s: %w", root, runtime.ErrNodeNotFound)
	}
	return capture(e, root, func(id core.NodeID) Optional[T] {
		v, ok := runtime.Get[T](e, id)
		if !ok {
			return None[T]()
		}
		return Some(v)
	}), nil
}

func capture[T any](e *runtime.Engine, id core.NodeID, value func(core.NodeID) T) Tree[T] {
	t := Tree[T]{Value: value(id)}
	children := e.Children(id)
	if len(children) > 0 {
		t.Children = make([]Tree[T], len(children))
		for i, c := range children {
			t.Children[i] = capture(e, c, value)
		}
	}
	return t
}

// Run states reported by NodeInfo.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateSuccess = "success"
	StateFailure = "failure"
)

// NodeInfo is the debug view of one node.
type NodeInfo struct {
	ID      core.NodeID `json:"id"`
	Name    string      `json:"name,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	State   string      `json:"state"`
	Score   string      `json:"score,omitempty"`
	Records []string    `json:"records,omitempty"`
}

// Label returns the name, or the kind and id when the node is unnamed.
func (n NodeInfo) Label() string {
	if n.Name != "" {
		return n.Name
	}
	if n.Kind != "" {
		return n.Kind + " " + n.ID.String()
	}
	return n.ID.String()
}

// Describe captures the debug view of the subtree at root.
func Describe(e *runtime.Engine, root core.NodeID) (Tree[NodeInfo], error) {
	if !e.Exists(root) {
		return Tree[NodeInfo]{}, fmt.Errorf("describe %s: %w", root, runtime.ErrNodeNotFound)
	}
	return capture(e, root, func(id core.NodeID) NodeInfo {
		return describe(e, id)
	}), nil
}

func describe(e *runtime.Engine, id core.NodeID) NodeInfo {
	meta, _ := runtime.Get[runtime.Meta](e, id)
	info := NodeInfo{ID: id, Name: meta.Name, Kind: meta.Kind, State: StateIdle}
	if e.IsRunning(id) {
		info.State = StateRunning
	} else if r, ok := e.ResultOf(id); ok {
		info.State = r.String()
	}
	if s, ok := runtime.Get[core.Score](e, id); ok {
		info.Score = s.String()
	}
	for _, rec := range e.Records(id) {
		info.Records = append(info.Records, reflect.TypeOf(rec).String())
	}
	return info
}
