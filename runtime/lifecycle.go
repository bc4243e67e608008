package runtime

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/arbor/core"
)

// runInfo is attached to the node launched by Run and lives until that node
// produces its final result or is interrupted.
type runInfo struct {
	ID      string
	Started time.Time
}

// Start begins a run of id. Starting a node that is already Running is a
// no-op that is logged at Warn.
func (e *Engine) Start(id core.NodeID) error {
	return e.start(id, false)
}

func (e *Engine) start(id core.NodeID, deferred bool) error {
	n, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("start %s: %w", id, ErrNodeNotFound)
	}
	if n.has(runningType) {
		e.logger.Warn("start ignored, node already running", "node", id, "name", n.meta().Name)
		return nil
	}

	e.detach(n, resultType)
	e.attach(n, Running{}, nil)
	e.attach(n, RunTimer{Started: e.now()}, nil)
	n.epoch++
	n.starts++

	evt := e.nodeEvent(n, EventNodeStarted)
	if n.parent.Valid() {
		evt = evt.WithPayload("parent", n.parent)
	}
	e.emit(evt)

	return e.dispatch(id, &Signal{Type: core.SignalRun, Source: id, Deferred: deferred})
}

// Finish completes the current run of id with result. The node's own Result
// handlers run first; the result then bubbles to the parent as a ChildResult
// unless a handler called StopBubbling.
func (e *Engine) Finish(id core.NodeID, result core.Result) error {
	return e.finish(id, result, nil)
}

func (e *Engine) finish(id core.NodeID, result core.Result, cause error) error {
	if !result.Valid() {
		return fmt.Errorf("finish %s with %d: %w", id, result, ErrInvalidResult)
	}
	n, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("finish %s: %w", id, ErrNodeNotFound)
	}
	if !n.has(runningType) {
		return fmt.Errorf("finish %s with %s: %w", id, result, ErrNotRunning)
	}

	var elapsed time.Duration
	if t, ok := n.records[timerType]; ok {
		elapsed = t.value.(RunTimer).Elapsed(e.now())
	}
	e.detach(n, runningType)
	e.detach(n, timerType)
	e.detach(n, pendingType)
	e.attach(n, RunResult{Result: result}, nil)

	kind := EventNodeFinished
	if result == core.Failure {
		kind = EventNodeFailed
	}
	evt := e.nodeEvent(n, kind).
		WithElapsed(elapsed).
		WithPayload("result", result.String())
	if cause != nil {
		evt = evt.WithPayload("error", cause.Error())
	}
	e.emit(evt)

	sig := &Signal{Type: core.SignalResult, Result: result, Source: id}
	if err := e.dispatch(id, sig); err != nil {
		return err
	}
	n, ok = e.nodes[id]
	if !ok || sig.Stopped() {
		return nil
	}

	e.endRun(n, "result", result.String())

	if !n.parent.Valid() {
		return nil
	}
	if _, ok := e.nodes[n.parent]; !ok {
		return nil
	}
	return e.dispatch(n.parent, &Signal{Type: core.SignalChildResult, Result: result, Source: id})
}

// Run starts root as a new run and returns its id. The run ends when root
// reports a result that is not held back by StopBubbling, or when root is
// interrupted.
func (e *Engine) Run(root core.NodeID) (string, error) {
	n, ok := e.nodes[root]
	if !ok {
		return "", fmt.Errorf("run %s: %w", root, ErrNodeNotFound)
	}
	if n.has(runningType) {
		e.logger.Warn("run ignored, node already running", "node", root)
		return e.runIDOf(n), nil
	}

	info := runInfo{ID: uuid.NewString(), Started: e.now()}
	e.attach(n, info, nil)
	e.emit(NewEvent(EventRunStarted, info.ID).
		WithTime(info.Started).
		WithNode(root, n.meta().Name, n.meta().Kind))

	if err := e.Start(root); err != nil {
		if n, ok := e.nodes[root]; ok {
			e.detach(n, runInfoType)
		}
		return info.ID, err
	}
	return info.ID, nil
}

// Finished reports whether the run launched on root with Run has ended.
func (e *Engine) Finished(root core.NodeID) bool {
	n, ok := e.nodes[root]
	return !ok || !n.has(runInfoType)
}

// RunID returns the id of the run the node belongs to, if any.
func (e *Engine) RunID(id core.NodeID) string {
	n, ok := e.nodes[id]
	if !ok {
		return ""
	}
	return e.runIDOf(n)
}

// endRun emits run.finished if n carries the run bookkeeping.
func (e *Engine) endRun(n *node, key, value string) {
	r, ok := n.records[runInfoType]
	if !ok {
		return
	}
	info := r.value.(runInfo)
	e.detach(n, runInfoType)
	now := e.now()
	e.emit(NewEvent(EventRunFinished, info.ID).
		WithTime(now).
		WithNode(n.id, n.meta().Name, n.meta().Kind).
		WithElapsed(now.Sub(info.Started)).
		WithPayload(key, value))
}

// OnResult calls fn once, with the first result of id that is not held back
// by StopBubbling.
func (e *Engine) OnResult(id core.NodeID, fn func(core.Result)) (ListenerID, error) {
	var lid ListenerID
	lid, err := e.Listen(id, core.SignalResult, func(e *Engine, id core.NodeID, sig *Signal) error {
		if sig.Stopped() {
			return nil
		}
		e.Unlisten(id, lid)
		fn(sig.Result)
		return nil
	})
	return lid, err
}

// IsRunning reports whether id has an in-flight run.
func (e *Engine) IsRunning(id core.NodeID) bool {
	return Has[Running](e, id)
}

// ResultOf returns the result of the node's last completed run.
func (e *Engine) ResultOf(id core.NodeID) (core.Result, bool) {
	r, ok := Get[RunResult](e, id)
	return r.Result, ok
}

// ClearResult returns a finished node to Idle.
func (e *Engine) ClearResult(id core.NodeID) bool {
	return e.Detach(id, resultType)
}

func (e *Engine) runIDOf(n *node) string {
	for cur := n; cur != nil; cur = e.nodes[cur.parent] {
		if r, ok := cur.records[runInfoType]; ok {
			return r.value.(runInfo).ID
		}
	}
	return ""
}

func (e *Engine) nodeEvent(n *node, kind EventKind) Event {
	m := n.meta()
	return NewEvent(kind, e.runIDOf(n)).
		WithTime(e.now()).
		WithNode(n.id, m.Name, m.Kind).
		WithAttempt(max(n.starts, 1))
}

// NodeEvent returns an event of the given kind for id, filled with the
// node's run id, name, kind and attempt.
func (e *Engine) NodeEvent(id core.NodeID, kind EventKind) Event {
	n, ok := e.nodes[id]
	if !ok {
		return NewEvent(kind, "").WithTime(e.now()).WithNode(id, "", "")
	}
	return e.nodeEvent(n, kind)
}
