package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// Return finishes immediately with Result.
type Return struct {
	Result core.Result
}

// Action runs Fn synchronously on the scheduling goroutine and finishes with
// its result. An error from Fn is not a Failure: it aborts the pass.
type Action struct {
	Fn func(e *runtime.Engine, id core.NodeID) (core.Result, error)
}

// Task runs Fn asynchronously through Engine.Go.
type Task struct {
	Fn runtime.TaskFunc
}

// Wait finishes with Result (Success when unset) once Duration has elapsed
// since the run started. Elapsed time is checked on every pass.
type Wait struct {
	Duration time.Duration
	Result   core.Result
}

func (w Wait) result() core.Result {
	if w.Result.Valid() {
		return w.Result
	}
	return core.Success
}

// Log writes Message to the engine logger, emits it as node output and
// succeeds.
type Log struct {
	Message string
	Level   slog.Level
}

func returnRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	r, _ := runtime.Get[Return](e, id)
	return e.Finish(id, r.Result)
}

func actionRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	a, _ := runtime.Get[Action](e, id)
	if a.Fn == nil {
		return fmt.Errorf("action %s: %w", id, runtime.ErrMissingData)
	}
	result, err := a.Fn(e, id)
	if err != nil {
		return fmt.Errorf("action %s: %w", id, err)
	}
	return e.Finish(id, result)
}

func taskRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	t, _ := runtime.Get[Task](e, id)
	if t.Fn == nil {
		return fmt.Errorf("task %s: %w", id, runtime.ErrMissingData)
	}
	return e.Go(id, t.Fn)
}

func waitRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	w, _ := runtime.Get[Wait](e, id)
	if w.Duration <= 0 {
		return e.Finish(id, w.result())
	}
	return nil
}

func waitTick(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	timer, ok := runtime.Get[runtime.RunTimer](e, id)
	if !ok || !e.IsRunning(id) {
		return nil
	}
	w, _ := runtime.Get[Wait](e, id)
	if timer.Elapsed(e.Now()) < w.Duration {
		return nil
	}
	return e.Finish(id, w.result())
}

func logRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	l, _ := runtime.Get[Log](e, id)
	meta, _ := runtime.Get[runtime.Meta](e, id)
	e.Logger().Log(context.Background(), l.Level, l.Message, "node", id, "name", meta.Name)
	e.Emitter()(e.NodeEvent(id, runtime.EventNodeOutput).WithPayload("message", l.Message))
	return e.Finish(id, core.Success)
}
