package runtime

import "errors"

// Engine errors. Apart from ErrInterrupted they indicate a programming error
// in a behavior or in the code building the tree; they abort the current
// dispatch chain and are returned from Tick.
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrNotRunning    = errors.New("node is not running")
	ErrChildNotFound = errors.New("child not found")
	ErrCycle         = errors.New("parent relationship would create a cycle")
	ErrInvalidResult = errors.New("invalid run result")
	ErrNilRecord     = errors.New("nil data record")
	ErrMissingData   = errors.New("required data record missing")
	ErrEngineClosed  = errors.New("engine is closed")
	ErrInterrupted   = errors.New("run was interrupted")
)
