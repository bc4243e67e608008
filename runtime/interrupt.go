package runtime

import (
	"fmt"

	"github.com/petal-labs/arbor/core"
)

// Interrupt cancels the run state of id and every descendant. Nodes are
// visited parent before children; each loses Running, RunResult, RunTimer
// and any Pending task, gets a new epoch, and receives SignalInterrupt.
// Nodes with nothing to clear are left untouched, so interrupting an idle
// subtree is a no-op.
func (e *Engine) Interrupt(id core.NodeID) error {
	if _, ok := e.nodes[id]; !ok {
		return fmt.Errorf("interrupt %s: %w", id, ErrNodeNotFound)
	}

	var runs []core.NodeID
	for _, nid := range e.subtree(id) {
		n, ok := e.nodes[nid]
		if !ok {
			continue
		}
		wasRunning := n.has(runningType)
		cleared := e.detach(n, runningType)
		cleared = e.detach(n, resultType) || cleared
		cleared = e.detach(n, timerType) || cleared
		cleared = e.detach(n, pendingType) || cleared
		if !cleared {
			continue
		}
		n.epoch++

		e.emit(e.nodeEvent(n, EventNodeInterrupted).WithPayload("was_running", wasRunning))
		if n.has(runInfoType) {
			runs = append(runs, nid)
		}

		if err := e.dispatch(nid, &Signal{Type: core.SignalInterrupt, Source: id}); err != nil {
			return err
		}
	}

	for _, rid := range runs {
		if n, ok := e.nodes[rid]; ok {
			e.endRun(n, "status", "interrupted")
		}
	}
	return nil
}
