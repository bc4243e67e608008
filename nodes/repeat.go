package nodes

import (
	"fmt"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// RepeatMode selects when a Repeat node runs again.
type RepeatMode uint8

const (
	// RepeatForever re-runs after every result.
	RepeatForever RepeatMode = iota + 1

	// RepeatWhileSuccess re-runs while the node succeeds.
	RepeatWhileSuccess

	// RepeatUntilSuccess re-runs while the node fails.
	RepeatUntilSuccess

	// RepeatTimes runs the node Count times in total.
	RepeatTimes
)

var repeatModeNames = map[RepeatMode]string{
	RepeatForever:      "forever",
	RepeatWhileSuccess: "while_success",
	RepeatUntilSuccess: "until_success",
	RepeatTimes:        "times",
}

// String returns the string representation of the RepeatMode.
func (m RepeatMode) String() string {
	if s, ok := repeatModeNames[m]; ok {
		return s
	}
	return "unset"
}

// ParseRepeatMode parses a mode name as returned by String.
func ParseRepeatMode(s string) (RepeatMode, error) {
	for m, name := range repeatModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("repeat mode %q: %w", s, ErrInvalidRepeat)
}

// Repeat can be attached to any node. When the node's result satisfies the
// mode, the result is kept from its parent and a new run is deferred to the
// next pass. The last result bubbles up as usual.
type Repeat struct {
	Mode  RepeatMode
	Count int
}

// Validate checks the mode and count.
func (r Repeat) Validate() error {
	if _, ok := repeatModeNames[r.Mode]; !ok {
		return fmt.Errorf("mode %d: %w", r.Mode, ErrInvalidRepeat)
	}
	if r.Mode == RepeatTimes && r.Count < 1 {
		return fmt.Errorf("times needs a count >= 1, got %d: %w", r.Count, ErrInvalidRepeat)
	}
	return nil
}

func (r Repeat) again(result core.Result, done int) bool {
	switch r.Mode {
	case RepeatForever:
		return true
	case RepeatWhileSuccess:
		return result == core.Success
	case RepeatUntilSuccess:
		return result == core.Failure
	case RepeatTimes:
		return done < r.Count
	}
	return false
}

// Repetitions counts the runs a Repeat node has completed in the current
// cycle.
type Repetitions struct {
	Done int
}

func repeatRun(e *runtime.Engine, id core.NodeID, sig *runtime.Signal) error {
	r, _ := runtime.Get[Repeat](e, id)
	if err := r.Validate(); err != nil {
		return fmt.Errorf("repeat on %s: %w", id, err)
	}
	// Only the deferred re-run continues a cycle; any other start begins a
	// new one.
	if !sig.Deferred {
		runtime.Detach[Repetitions](e, id)
	}
	return nil
}

func repeatResult(e *runtime.Engine, id core.NodeID, sig *runtime.Signal) error {
	r, _ := runtime.Get[Repeat](e, id)
	reps, _ := runtime.Get[Repetitions](e, id)
	reps.Done++

	if !r.again(sig.Result, reps.Done) {
		runtime.Detach[Repetitions](e, id)
		return nil
	}
	if err := e.Attach(id, reps); err != nil {
		return err
	}
	sig.StopBubbling()
	return e.Defer(id, core.SignalRun)
}

func repeatInterrupt(e *runtime.Engine, id core.NodeID, _ *runtime.Signal) error {
	runtime.Detach[Repetitions](e, id)
	return nil
}
