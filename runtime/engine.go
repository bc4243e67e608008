// Package runtime provides the arbor execution engine: an arena of nodes with
// typed data records, a synchronous signal dispatcher, the run lifecycle
// (Start / Finish / Interrupt) and a cooperative tick scheduler.
//
// An Engine is not safe for concurrent use. All calls must come from the
// goroutine driving Tick; asynchronous work is expressed with Engine.Go and
// reported back through the completion queue drained by Tick.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/petal-labs/arbor/core"
)

// Engine owns a forest of nodes and everything attached to them.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
	emit   EventEmitter

	nextID core.NodeID
	nodes  map[core.NodeID]*node
	order  []core.NodeID // ascending ids of live nodes

	// handlers keyed by signal type, in registration order
	typeHandlers map[core.SignalType][]typeHandler
	regSeq       uint64
	nextListener ListenerID

	deferred    []deferredSignal
	completions chan completion
	taskSeq     uint64

	baseCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type node struct {
	id        core.NodeID
	parent    core.NodeID
	children  []core.NodeID
	records   map[reflect.Type]*record
	types     []reflect.Type // attach order
	listeners []listener
	epoch     uint64
	starts    int
}

// New creates an engine.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		logger:       opts.Logger,
		now:          opts.Now,
		emit:         opts.buildEmitter(),
		nextID:       1,
		nodes:        make(map[core.NodeID]*node),
		typeHandlers: make(map[core.SignalType][]typeHandler),
		completions:  make(chan completion, opts.CompletionBuffer),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// Close cancels every in-flight task. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.closeOnce.Do(e.cancel)
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Emitter returns the engine's event emitter.
func (e *Engine) Emitter() EventEmitter {
	return e.emit
}

// Spawn creates a node under parent (core.NoParent for a root) with the
// given data records attached in order.
func (e *Engine) Spawn(parent core.NodeID, data ...any) (core.NodeID, error) {
	var p *node
	if parent.Valid() {
		var ok bool
		if p, ok = e.nodes[parent]; !ok {
			return core.NoParent, fmt.Errorf("spawn under %s: %w", parent, ErrNodeNotFound)
		}
	}
	for i, rec := range data {
		if rec == nil {
			return core.NoParent, fmt.Errorf("spawn: data[%d]: %w", i, ErrNilRecord)
		}
	}

	id := e.nextID
	e.nextID++
	n := &node{
		id:      id,
		parent:  parent,
		records: make(map[reflect.Type]*record),
	}
	e.nodes[id] = n
	e.order = append(e.order, id)
	if p != nil {
		p.children = append(p.children, id)
	}
	for _, rec := range data {
		e.attach(n, rec, nil)
	}
	return id, nil
}

// Exists reports whether id refers to a live node.
func (e *Engine) Exists(id core.NodeID) bool {
	_, ok := e.nodes[id]
	return ok
}

// Len returns the number of live nodes.
func (e *Engine) Len() int {
	return len(e.nodes)
}

// Nodes returns the ids of all live nodes in ascending order.
func (e *Engine) Nodes() []core.NodeID {
	return slices.Clone(e.order)
}

// Roots returns the ids of all live nodes without a parent, ascending.
func (e *Engine) Roots() []core.NodeID {
	var roots []core.NodeID
	for _, id := range e.order {
		if !e.nodes[id].parent.Valid() {
			roots = append(roots, id)
		}
	}
	return roots
}

// Parent returns the parent of id, or core.NoParent.
func (e *Engine) Parent(id core.NodeID) (core.NodeID, error) {
	n, ok := e.nodes[id]
	if !ok {
		return core.NoParent, fmt.Errorf("parent of %s: %w", id, ErrNodeNotFound)
	}
	return n.parent, nil
}

// Children returns a copy of id's ordered children. Unknown ids have none.
func (e *Engine) Children(id core.NodeID) []core.NodeID {
	n, ok := e.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(n.children)
}

// ChildIndex returns the position of child under parent.
func (e *Engine) ChildIndex(parent, child core.NodeID) (int, error) {
	p, ok := e.nodes[parent]
	if !ok {
		return -1, fmt.Errorf("child index in %s: %w", parent, ErrNodeNotFound)
	}
	i := slices.Index(p.children, child)
	if i < 0 {
		return -1, fmt.Errorf("%s under %s: %w", child, parent, ErrChildNotFound)
	}
	return i, nil
}

// Epoch returns the node's run epoch. It changes on every Start and every
// Interrupt, and is how stale deferred signals and task completions are
// recognized.
func (e *Engine) Epoch(id core.NodeID) uint64 {
	if n, ok := e.nodes[id]; ok {
		return n.epoch
	}
	return 0
}

// SetParent moves child (with its subtree) to the end of parent's children.
// core.NoParent turns child into a root.
func (e *Engine) SetParent(child, parent core.NodeID) error {
	c, ok := e.nodes[child]
	if !ok {
		return fmt.Errorf("reparent %s: %w", child, ErrNodeNotFound)
	}
	var p *node
	if parent.Valid() {
		if p, ok = e.nodes[parent]; !ok {
			return fmt.Errorf("reparent %s under %s: %w", child, parent, ErrNodeNotFound)
		}
		for cur := parent; cur.Valid(); cur = e.nodes[cur].parent {
			if cur == child {
				return fmt.Errorf("reparent %s under %s: %w", child, parent, ErrCycle)
			}
		}
	}
	if c.parent == parent {
		return nil
	}
	e.unlink(c)
	c.parent = parent
	if p != nil {
		p.children = append(p.children, child)
	}
	return nil
}

// Destroy removes id and its whole subtree. Every record is detached
// (releasing pending tasks) and node-local handlers are dropped, so no
// further signal can reach the destroyed nodes.
func (e *Engine) Destroy(id core.NodeID) error {
	n, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("destroy %s: %w", id, ErrNodeNotFound)
	}
	e.unlink(n)

	doomed := e.subtree(id)
	for i := len(doomed) - 1; i >= 0; i-- {
		d := e.nodes[doomed[i]]
		for _, typ := range slices.Clone(d.types) {
			e.detach(d, typ)
		}
		d.listeners = nil
		delete(e.nodes, d.id)
	}
	e.order = slices.DeleteFunc(e.order, func(nid core.NodeID) bool {
		_, live := e.nodes[nid]
		return !live
	})
	e.logger.Debug("destroyed subtree", "root", id, "nodes", len(doomed))
	return nil
}

// subtree returns id and its descendants in pre-order.
func (e *Engine) subtree(id core.NodeID) []core.NodeID {
	var out []core.NodeID
	stack := []core.NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := e.nodes[cur]
		if !ok {
			continue
		}
		out = append(out, cur)
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return out
}

func (e *Engine) unlink(n *node) {
	if !n.parent.Valid() {
		return
	}
	if p, ok := e.nodes[n.parent]; ok {
		p.children = slices.DeleteFunc(p.children, func(c core.NodeID) bool { return c == n.id })
	}
	n.parent = core.NoParent
}
