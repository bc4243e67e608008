package runtime

import (
	"context"
	"fmt"

	"github.com/petal-labs/arbor/core"
)

// TaskFunc is work executed off the scheduling goroutine. It must not touch
// the engine; its return value is applied by the next Tick.
type TaskFunc func(ctx context.Context) (core.Result, error)

// Pending is attached to a node while an asynchronous task runs on its
// behalf. Detaching it, by Finish, Interrupt or Destroy, cancels the task's
// context.
type Pending struct {
	Task   uint64
	cancel context.CancelFunc
}

// Release cancels the task.
func (p Pending) Release() {
	if p.cancel != nil {
		p.cancel()
	}
}

type completion struct {
	id     core.NodeID
	epoch  uint64
	task   uint64
	result core.Result
	err    error
}

// Go runs fn for the Running node id. When fn returns, the next Tick finishes
// the node with its result, or with Failure if fn returned an error. The
// completion is discarded if the node was interrupted, restarted or
// destroyed in the meantime, or if a newer task replaced this one.
func (e *Engine) Go(id core.NodeID, fn TaskFunc) error {
	if e.baseCtx.Err() != nil {
		return ErrEngineClosed
	}
	n, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("task on %s: %w", id, ErrNodeNotFound)
	}
	if !n.has(runningType) {
		return fmt.Errorf("task on %s: %w", id, ErrNotRunning)
	}

	e.taskSeq++
	seq := e.taskSeq
	epoch := n.epoch

	ctx, cancel := context.WithCancel(e.baseCtx)
	ctx = ContextWithNode(ctx, id)
	ctx = ContextWithEmitter(ctx, e.taskEmitter(n))
	ctx = ContextWithLogger(ctx, e.logger.With("node", id, "task", seq))
	e.attach(n, Pending{Task: seq, cancel: cancel}, nil)

	go func() {
		result, err := fn(ctx)
		select {
		case e.completions <- completion{id: id, epoch: epoch, task: seq, result: result, err: err}:
		case <-e.baseCtx.Done():
		}
	}()
	return nil
}

// taskEmitter fills in the run and node fields a task leaves empty, as
// captured when the task was spawned.
func (e *Engine) taskEmitter(n *node) EventEmitter {
	base := e.nodeEvent(n, "")
	return func(ev Event) {
		if ev.RunID == "" {
			ev.RunID = base.RunID
		}
		if !ev.NodeID.Valid() {
			ev.NodeID = base.NodeID
		}
		if ev.NodeID == base.NodeID {
			if ev.NodeName == "" {
				ev.NodeName = base.NodeName
			}
			if ev.NodeKind == "" {
				ev.NodeKind = base.NodeKind
			}
			ev.Attempt = base.Attempt
		}
		e.emit(ev)
	}
}

func (e *Engine) complete(c completion) error {
	n, ok := e.nodes[c.id]
	if !ok || n.epoch != c.epoch || !n.has(runningType) || !e.current(n, c.task) {
		e.logger.Debug("discarded stale task completion", "node", c.id, "task", c.task)
		e.emit(NewEvent(EventTaskDiscarded, e.RunID(c.id)).
			WithTime(e.now()).
			WithNode(c.id, "", "").
			WithPayload("task", c.task))
		return nil
	}

	if c.err != nil {
		e.logger.Warn("task failed", "node", c.id, "name", n.meta().Name, "error", c.err)
		return e.finish(c.id, core.Failure, c.err)
	}
	if !c.result.Valid() {
		return fmt.Errorf("task on %s returned %d: %w", c.id, c.result, ErrInvalidResult)
	}
	return e.finish(c.id, c.result, nil)
}

func (e *Engine) current(n *node, task uint64) bool {
	r, ok := n.records[pendingType]
	return ok && r.value.(Pending).Task == task
}
