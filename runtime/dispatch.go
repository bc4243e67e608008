package runtime

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/petal-labs/arbor/core"
)

// Signal is delivered synchronously to the handlers of one node.
type Signal struct {
	Type core.SignalType

	// Result is set for SignalResult and SignalChildResult.
	Result core.Result

	// Source is the node whose run produced Result. For SignalChildResult it
	// is the child reporting to its parent.
	Source core.NodeID

	// Deferred is set when the signal was scheduled with Defer.
	Deferred bool

	stopped bool
}

// StopBubbling keeps a SignalResult from being forwarded to the parent once
// the node's own handlers have run.
func (s *Signal) StopBubbling() {
	s.stopped = true
}

// Stopped reports whether StopBubbling was called.
func (s *Signal) Stopped() bool {
	return s.stopped
}

// Handler reacts to a signal delivered to node id. A returned error aborts
// the dispatch chain and is propagated to the caller of Dispatch.
type Handler func(e *Engine, id core.NodeID, sig *Signal) error

// Observer is a node-local handler registered through Attach.
type Observer struct {
	Signal  core.SignalType
	Handler Handler
}

// ListenerID identifies a handler registered with Listen.
type ListenerID uint64

type typeHandler struct {
	seq     uint64
	typ     reflect.Type
	handler Handler
}

type observerEntry struct {
	seq     uint64
	signal  core.SignalType
	handler Handler
}

type listener struct {
	id      ListenerID
	seq     uint64
	signal  core.SignalType
	handler Handler
	once    bool
}

// Observe registers h for signal on every node that carries a record of type
// typ. The handler is active on a node exactly while the record is attached.
func (e *Engine) Observe(typ reflect.Type, signal core.SignalType, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("runtime: nil handler for %v on %s", typ, signal))
	}
	e.regSeq++
	e.typeHandlers[signal] = append(e.typeHandlers[signal], typeHandler{
		seq:     e.regSeq,
		typ:     typ,
		handler: h,
	})
}

// Observe registers h for signal on every node carrying a T record.
func Observe[T any](e *Engine, signal core.SignalType, h Handler) {
	e.Observe(reflect.TypeFor[T](), signal, h)
}

// Listen registers a node-local handler that is not tied to any record. It
// is dropped when the node is destroyed or Unlisten is called.
func (e *Engine) Listen(id core.NodeID, signal core.SignalType, h Handler) (ListenerID, error) {
	return e.listen(id, signal, h, false)
}

// ListenOnce is Listen for a handler that is removed before its first call.
func (e *Engine) ListenOnce(id core.NodeID, signal core.SignalType, h Handler) (ListenerID, error) {
	return e.listen(id, signal, h, true)
}

func (e *Engine) listen(id core.NodeID, signal core.SignalType, h Handler, once bool) (ListenerID, error) {
	if h == nil {
		panic(fmt.Sprintf("runtime: nil listener for %s on %s", signal, id))
	}
	n, ok := e.nodes[id]
	if !ok {
		return 0, fmt.Errorf("listen on %s: %w", id, ErrNodeNotFound)
	}
	e.regSeq++
	e.nextListener++
	n.listeners = append(n.listeners, listener{
		id:      e.nextListener,
		seq:     e.regSeq,
		signal:  signal,
		handler: h,
		once:    once,
	})
	return e.nextListener, nil
}

// Unlisten removes a listener. It reports whether it was registered.
func (e *Engine) Unlisten(id core.NodeID, lid ListenerID) bool {
	n, ok := e.nodes[id]
	if !ok {
		return false
	}
	before := len(n.listeners)
	n.listeners = slices.DeleteFunc(n.listeners, func(l listener) bool { return l.id == lid })
	return len(n.listeners) != before
}

// Dispatch delivers sig to node id. Handlers run synchronously in
// registration order and may dispatch further signals.
func (e *Engine) Dispatch(id core.NodeID, sig Signal) error {
	return e.dispatch(id, &sig)
}

type call struct {
	seq      uint64
	typ      reflect.Type // nil for listeners
	observer bool
	listener ListenerID
	once     bool
	handler  Handler
}

func (e *Engine) dispatch(id core.NodeID, sig *Signal) error {
	n, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("dispatch %s to %s: %w", sig.Type, id, ErrNodeNotFound)
	}

	calls := e.collect(n, sig.Type)
	for _, c := range calls {
		// Earlier handlers may have destroyed the node or detached records.
		n, ok := e.nodes[id]
		if !ok {
			return nil
		}
		if !c.active(n) {
			continue
		}
		if c.once {
			n.listeners = slices.DeleteFunc(n.listeners, func(l listener) bool { return l.id == c.listener })
		}
		if err := c.handler(e, id, sig); err != nil {
			return err
		}
	}
	return nil
}

func (c call) active(n *node) bool {
	switch {
	case c.listener != 0:
		return slices.ContainsFunc(n.listeners, func(l listener) bool { return l.id == c.listener })
	case c.observer:
		r, ok := n.records[c.typ]
		return ok && r.hasObserver(c.seq)
	default:
		return n.has(c.typ)
	}
}

// collect gathers every handler for signal that applies to n, sorted by
// registration sequence.
func (e *Engine) collect(n *node, signal core.SignalType) []call {
	var calls []call
	for _, th := range e.typeHandlers[signal] {
		if n.has(th.typ) {
			calls = append(calls, call{seq: th.seq, typ: th.typ, handler: th.handler})
		}
	}
	for _, typ := range n.types {
		for _, o := range n.records[typ].observers {
			if o.signal == signal {
				calls = append(calls, call{seq: o.seq, typ: typ, observer: true, handler: o.handler})
			}
		}
	}
	for _, l := range n.listeners {
		if l.signal == signal {
			calls = append(calls, call{seq: l.seq, listener: l.id, once: l.once, handler: l.handler})
		}
	}
	slices.SortFunc(calls, func(a, b call) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return calls
}

// Broadcast delivers sig to every node, in ascending id order, that has at
// least one handler for it. Nodes spawned during the broadcast are not
// visited.
func (e *Engine) Broadcast(sig Signal) error {
	for _, id := range slices.Clone(e.order) {
		n, ok := e.nodes[id]
		if !ok || !e.handles(n, sig.Type) {
			continue
		}
		s := sig
		if err := e.dispatch(id, &s); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handles(n *node, signal core.SignalType) bool {
	for _, th := range e.typeHandlers[signal] {
		if n.has(th.typ) {
			return true
		}
	}
	for _, typ := range n.types {
		for _, o := range n.records[typ].observers {
			if o.signal == signal {
				return true
			}
		}
	}
	for _, l := range n.listeners {
		if l.signal == signal {
			return true
		}
	}
	return false
}
