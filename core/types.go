// Package core provides the foundational types shared by the arbor engine,
// its behaviors and its tooling.
//
// This package contains:
//   - Identity: NodeID
//   - Outcomes: Result (Success / Failure)
//   - Utility values: Score with its total order
//   - Signal names understood by the runtime dispatcher
package core

import (
	"fmt"
	"strconv"
)

// NodeID identifies a node inside one engine. IDs are never reused.
type NodeID uint64

// NoParent is the parent id of a root node.
const NoParent NodeID = 0

// Valid reports whether the id can refer to a node.
func (id NodeID) Valid() bool {
	return id != NoParent
}

// String returns the string representation of the NodeID.
func (id NodeID) String() string {
	return "n" + strconv.FormatUint(uint64(id), 10)
}

// Result is the outcome of a completed run.
type Result uint8

const (
	Success Result = iota + 1
	Failure
)

// Valid reports whether r is Success or Failure.
func (r Result) Valid() bool {
	return r == Success || r == Failure
}

// String returns the string representation of the Result.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Invert swaps Success and Failure.
func (r Result) Invert() Result {
	if r == Success {
		return Failure
	}
	return Success
}

// ParseResult parses "success" or "failure".
func ParseResult(s string) (Result, error) {
	switch s {
	case "success", "succeed", "ok":
		return Success, nil
	case "failure", "fail", "failed":
		return Failure, nil
	default:
		return 0, fmt.Errorf("unknown result %q", s)
	}
}

// SignalType names a signal delivered through the dispatcher.
type SignalType string

const (
	// SignalRun asks a node to begin a run.
	SignalRun SignalType = "run"

	// SignalResult is delivered to a node's own handlers when its run finishes.
	SignalResult SignalType = "result"

	// SignalChildResult is the bubbled form of SignalResult, delivered to the parent.
	SignalChildResult SignalType = "child_result"

	// SignalInterrupt is delivered to every node visited by an interrupt.
	SignalInterrupt SignalType = "interrupt"

	// SignalTick is broadcast once per scheduling pass.
	SignalTick SignalType = "tick"

	// SignalScore asks score providers to refresh a node's Score.
	SignalScore SignalType = "score"
)

// String returns the string representation of the SignalType.
func (t SignalType) String() string {
	return string(t)
}
