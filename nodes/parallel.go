package nodes

import (
	"fmt"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// Policy decides how a Parallel node folds its children's results.
type Policy uint8

const (
	// SucceedAll succeeds only if every child succeeded.
	SucceedAll Policy = iota + 1

	// SucceedAny succeeds if at least one child succeeded.
	SucceedAny
)

// String returns the string representation of the Policy.
func (p Policy) String() string {
	switch p {
	case SucceedAll:
		return "all"
	case SucceedAny:
		return "any"
	default:
		return "unset"
	}
}

// ParsePolicy parses "all" or "any".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "all", "succeed_all":
		return SucceedAll, nil
	case "any", "succeed_any":
		return SucceedAny, nil
	default:
		return 0, fmt.Errorf("policy %q: %w", s, ErrInvalidPolicy)
	}
}

// Parallel starts all of its children at once and finishes after every
// child has reported. The policy has no default.
type Parallel struct {
	Policy Policy
}

func (p Parallel) fold(results []core.Result) core.Result {
	for _, r := range results {
		if p.Policy == SucceedAll && r == core.Failure {
			return core.Failure
		}
		if p.Policy == SucceedAny && r == core.Success {
			return core.Success
		}
	}
	if p.Policy == SucceedAll {
		return core.Success
	}
	return core.Failure
}

// Reported collects the results of the children that reported to a
// Parallel node during its current run.
type Reported struct {
	Results map[core.NodeID]core.Result
}

func parallelRun(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	p, _ := runtime.Get[Parallel](e, id)
	if p.Policy != SucceedAll && p.Policy != SucceedAny {
		return fmt.Errorf("parallel %s: %w", id, ErrInvalidPolicy)
	}

	children := e.Children(id)
	if len(children) == 0 {
		return e.Finish(id, p.fold(nil))
	}
	if err := e.Attach(id, Reported{Results: make(map[core.NodeID]core.Result, len(children))}); err != nil {
		return err
	}
	for _, c := range children {
		e.ClearResult(c)
	}
	for _, c := range children {
		if !e.IsRunning(id) {
			return nil
		}
		if err := e.Start(c); err != nil {
			return err
		}
	}
	return nil
}

// parallelChildResult counts only results that reached this node. A child
// holding a RunResult has not necessarily reported: Repeat keeps
// intermediate results from bubbling.
func parallelChildResult(e *runtime.Engine, id core.NodeID, sig *runtime.Signal) error {
	if !e.IsRunning(id) {
		return nil
	}
	rep, ok := runtime.Get[Reported](e, id)
	if !ok {
		return nil
	}
	rep.Results[sig.Source] = sig.Result

	children := e.Children(id)
	results := make([]core.Result, 0, len(children))
	for _, c := range children {
		r, ok := rep.Results[c]
		if !ok {
			return nil
		}
		results = append(results, r)
	}
	runtime.Detach[Reported](e, id)
	p, _ := runtime.Get[Parallel](e, id)
	return e.Finish(id, p.fold(results))
}

func parallelInterrupt(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	runtime.Detach[Reported](e, id)
	return nil
}
