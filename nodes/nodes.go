// Package nodes provides the behaviors of arbor trees: the control-flow
// composites (Sequence, Fallback, Parallel, Utility, Invert), the Repeat
// decorator and the built-in leaves.
//
// Behaviors are plain data records. Register installs their handlers on an
// engine; after that, attaching a record to a node is what makes the node
// behave that way.
package nodes

import (
	"errors"
	"fmt"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// Node kinds, used as runtime.Meta.Kind and as type names in tree
// definitions.
const (
	KindSequence = "sequence"
	KindFallback = "fallback"
	KindParallel = "parallel"
	KindUtility  = "utility"
	KindInvert   = "invert"
	KindReturn   = "return"
	KindWait     = "wait"
	KindLog      = "log"
	KindAction   = "action"
	KindTask     = "task"
	KindExec     = "exec"
	KindHTTP     = "http"
)

var (
	// ErrInvalidPolicy is returned when a Parallel node runs without an
	// explicit policy.
	ErrInvalidPolicy = errors.New("parallel policy must be SucceedAll or SucceedAny")

	// ErrInvalidRepeat is returned when a Repeat record is misconfigured.
	ErrInvalidRepeat = errors.New("invalid repeat configuration")
)

// Register installs the handlers of every behavior in this package on e.
// Call it once per engine, before any OnResult consumer is registered, so
// that Repeat sees results first.
func Register(e *runtime.Engine) {
	runtime.Observe[Repeat](e, core.SignalRun, repeatRun)
	runtime.Observe[Repeat](e, core.SignalResult, repeatResult)
	runtime.Observe[Repeat](e, core.SignalInterrupt, repeatInterrupt)

	runtime.Observe[Sequence](e, core.SignalRun, sequenceRun)
	runtime.Observe[Sequence](e, core.SignalChildResult, sequenceChildResult)
	runtime.Observe[Fallback](e, core.SignalRun, fallbackRun)
	runtime.Observe[Fallback](e, core.SignalChildResult, fallbackChildResult)
	runtime.Observe[Invert](e, core.SignalRun, invertRun)
	runtime.Observe[Invert](e, core.SignalChildResult, invertChildResult)
	runtime.Observe[Parallel](e, core.SignalRun, parallelRun)
	runtime.Observe[Parallel](e, core.SignalChildResult, parallelChildResult)
	runtime.Observe[Parallel](e, core.SignalInterrupt, parallelInterrupt)
	runtime.Observe[Utility](e, core.SignalRun, utilityRun)
	runtime.Observe[Utility](e, core.SignalChildResult, utilityChildResult)

	runtime.Observe[ScoreFunc](e, core.SignalScore, scoreRefresh)
	runtime.Observe[ScoreFunc](e, core.SignalTick, scoreRefresh)

	runtime.Observe[Return](e, core.SignalRun, returnRun)
	runtime.Observe[Action](e, core.SignalRun, actionRun)
	runtime.Observe[Task](e, core.SignalRun, taskRun)
	runtime.Observe[Log](e, core.SignalRun, logRun)
	runtime.Observe[Wait](e, core.SignalRun, waitRun)
	runtime.Observe[Wait](e, core.SignalTick, waitTick)
}

// startAfter starts the child following source under id, or finishes id
// with done when source was the last child.
func startAfter(e *runtime.Engine, id, source core.NodeID, done core.Result) error {
	i, err := e.ChildIndex(id, source)
	if err != nil {
		return err
	}
	children := e.Children(id)
	if i+1 >= len(children) {
		return e.Finish(id, done)
	}
	return e.Start(children[i+1])
}

func firstChild(e *runtime.Engine, id core.NodeID, kind string) (core.NodeID, error) {
	children := e.Children(id)
	if len(children) == 0 {
		return core.NoParent, fmt.Errorf("%s %s has no child: %w", kind, id, runtime.ErrChildNotFound)
	}
	return children[0], nil
}
