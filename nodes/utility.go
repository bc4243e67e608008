package nodes

import (
	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// Utility starts the single child with the strictly highest core.Score and
// finishes with that child's result. Ties go to the first declared child.
// Children without a Score, or scored Fail, are never selected; with no
// candidate the node fails. Scores are read once per run, after every child
// received SignalScore.
type Utility struct{}

// Selected records the child a Utility node picked for its current run.
type Selected struct {
	Child core.NodeID
	Score core.Score
}

// ScoreFunc keeps the node's core.Score up to date. It is refreshed on every
// SignalScore and on every pass, whether or not the node is running.
type ScoreFunc struct {
	Fn func(e *runtime.Engine, id core.NodeID) core.Score
}

func utilityRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	runtime.Detach[Selected](e, id)

	children := e.Children(id)
	for _, c := range children {
		if err := e.Dispatch(c, runtime.Signal{Type: core.SignalScore, Source: id}); err != nil {
			return err
		}
	}

	best, score, ok := pick(e, children)
	if !ok {
		e.Logger().Debug("utility has no candidate", "node", id)
		return e.Finish(id, core.Failure)
	}
	if err := e.Attach(id, Selected{Child: best, Score: score}); err != nil {
		return err
	}
	return e.Start(best)
}

// pick returns the first child holding the highest non-Fail score.
func pick(e *runtime.Engine, children []core.NodeID) (core.NodeID, core.Score, bool) {
	var (
		best  core.NodeID
		score core.Score
		found bool
	)
	for _, c := range children {
		s, ok := runtime.Get[core.Score](e, c)
		if !ok || s.IsFail() {
			continue
		}
		if !found || score.Less(s) {
			best, score, found = c, s, true
		}
	}
	return best, score, found
}

func utilityChildResult(e *runtime.Engine, id core.NodeID, sig *runtime.Signal) error {
	if !e.IsRunning(id) {
		return nil
	}
	sel, ok := runtime.Get[Selected](e, id)
	if !ok || sel.Child != sig.Source {
		return nil
	}
	return e.Finish(id, sig.Result)
}

func scoreRefresh(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	f, _ := runtime.Get[ScoreFunc](e, id)
	if f.Fn == nil {
		return nil
	}
	s := f.Fn(e, id)
	prev, had := runtime.Get[core.Score](e, id)
	if err := e.Attach(id, s); err != nil {
		return err
	}
	if !had || prev.Compare(s) != 0 {
		e.Emitter()(e.NodeEvent(id, runtime.EventNodeScore).WithPayload("score", s.String()))
	}
	return nil
}
