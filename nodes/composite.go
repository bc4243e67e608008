package nodes

import (
	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// Sequence runs its children one at a time in order. It fails as soon as a
// child fails and succeeds once the last child succeeded. A Sequence without
// children succeeds.
type Sequence struct{}

// Fallback runs its children one at a time in order until one succeeds. It
// fails once every child failed. A Fallback without children fails.
type Fallback struct{}

// Invert runs its single child and reports the opposite result.
type Invert struct{}

func sequenceRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	children := e.Children(id)
	if len(children) == 0 {
		return e.Finish(id, core.Success)
	}
	return e.Start(children[0])
}

func sequenceChildResult(e *runtime.Engine, id core.NodeID, sig *runtime.Signal) error {
	if !e.IsRunning(id) {
		return nil
	}
	if sig.Result == core.Failure {
		return e.Finish(id, core.Failure)
	}
	return startAfter(e, id, sig.Source, core.Success)
}

func fallbackRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	children := e.Children(id)
	if len(children) == 0 {
		return e.Finish(id, core.Failure)
	}
	return e.Start(children[0])
}

func fallbackChildResult(e *runtime.Engine, id core.NodeID, sig *runtime.Signal) error {
	if !e.IsRunning(id) {
		return nil
	}
	if sig.Result == core.Success {
		return e.Finish(id, core.Success)
	}
	return startAfter(e, id, sig.Source, core.Failure)
}

func invertRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	child, err := firstChild(e, id, KindInvert)
	if err != nil {
		return err
	}
	return e.Start(child)
}

func invertChildResult(e *runtime.Engine, id core.NodeID, sig *runtime.Signal) error {
	if !e.IsRunning(id) {
		return nil
	}
	return e.Finish(id, sig.Result.Invert())
}
