package runtime

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/petal-labs/arbor/core"
)

// Running is present on a node exactly while it has an in-flight run.
type Running struct{}

// RunResult holds the outcome of the node's last completed run. It is
// removed by the next Start and by Interrupt.
type RunResult struct {
	Result core.Result
}

// RunTimer records when the node's current run started.
type RunTimer struct {
	Started time.Time
}

// Elapsed returns the time since the run started.
func (t RunTimer) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.Started)
}

// Meta names a node for logs, events and debug output.
type Meta struct {
	Name string
	Kind string
}

// Releaser is implemented by records that hold resources. Release is called
// when the record is detached, replaced, or its node destroyed.
type Releaser interface {
	Release()
}

type record struct {
	value     any
	observers []observerEntry
}

func (r *record) hasObserver(seq uint64) bool {
	for _, o := range r.observers {
		if o.seq == seq {
			return true
		}
	}
	return false
}

var (
	runningType = reflect.TypeFor[Running]()
	resultType  = reflect.TypeFor[RunResult]()
	timerType   = reflect.TypeFor[RunTimer]()
	pendingType = reflect.TypeFor[Pending]()
	metaType    = reflect.TypeFor[Meta]()
	runInfoType = reflect.TypeFor[runInfo]()
)

// TypeOf returns the key under which records of type T are attached.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Attach adds record to the node, replacing any record of the same dynamic
// type. Observers are registered against (node, record type) and stay
// active until the record is detached or the node destroyed.
func (e *Engine) Attach(id core.NodeID, rec any, observers ...Observer) error {
	if rec == nil {
		return fmt.Errorf("attach to %s: %w", id, ErrNilRecord)
	}
	n, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("attach %T to %s: %w", rec, id, ErrNodeNotFound)
	}
	for _, o := range observers {
		if o.Handler == nil {
			panic(fmt.Sprintf("runtime: nil observer handler for %T on %s", rec, o.Signal))
		}
	}
	e.attach(n, rec, observers)
	return nil
}

func (e *Engine) attach(n *node, rec any, observers []Observer) {
	typ := reflect.TypeOf(rec)
	r, exists := n.records[typ]
	if exists {
		if rel, ok := r.value.(Releaser); ok {
			rel.Release()
		}
		r.value = rec
	} else {
		r = &record{value: rec}
		n.records[typ] = r
		n.types = append(n.types, typ)
	}
	for _, o := range observers {
		e.regSeq++
		r.observers = append(r.observers, observerEntry{
			seq:     e.regSeq,
			signal:  o.Signal,
			handler: o.Handler,
		})
	}
}

// Detach removes the record of the given type and every observer keyed to
// it. It reports whether a record was present.
func (e *Engine) Detach(id core.NodeID, typ reflect.Type) bool {
	n, ok := e.nodes[id]
	if !ok {
		return false
	}
	return e.detach(n, typ)
}

func (e *Engine) detach(n *node, typ reflect.Type) bool {
	r, ok := n.records[typ]
	if !ok {
		return false
	}
	delete(n.records, typ)
	n.types = slices.DeleteFunc(n.types, func(t reflect.Type) bool { return t == typ })
	if rel, ok := r.value.(Releaser); ok {
		rel.Release()
	}
	return true
}

// Lookup returns the record of the given type attached to id.
func (e *Engine) Lookup(id core.NodeID, typ reflect.Type) (any, bool) {
	n, ok := e.nodes[id]
	if !ok {
		return nil, false
	}
	r, ok := n.records[typ]
	if !ok {
		return nil, false
	}
	return r.value, true
}

// Records returns the node's records in attach order.
func (e *Engine) Records(id core.NodeID) []any {
	n, ok := e.nodes[id]
	if !ok {
		return nil
	}
	out := make([]any, 0, len(n.types))
	for _, typ := range n.types {
		out = append(out, n.records[typ].value)
	}
	return out
}

func (n *node) has(typ reflect.Type) bool {
	_, ok := n.records[typ]
	return ok
}

func (n *node) meta() Meta {
	if r, ok := n.records[metaType]; ok {
		return r.value.(Meta)
	}
	return Meta{}
}

// Get returns the T record attached to id.
func Get[T any](e *Engine, id core.NodeID) (T, bool) {
	v, ok := e.Lookup(id, reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Has reports whether a T record is attached to id.
func Has[T any](e *Engine, id core.NodeID) bool {
	_, ok := e.Lookup(id, reflect.TypeFor[T]())
	return ok
}

// Detach removes the T record from id.
func Detach[T any](e *Engine, id core.NodeID) bool {
	return e.Detach(id, reflect.TypeFor[T]())
}

// MustGet returns the T record attached to id, or an ErrMissingData error.
func MustGet[T any](e *Engine, id core.NodeID) (T, error) {
	v, ok := Get[T](e, id)
	if !ok {
		return v, fmt.Errorf("%T on %s: %w", v, id, ErrMissingData)
	}
	return v, nil
}
