package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

// Outcomes of a NodeRun.
const (
	OutcomeRunning     = "running"
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeInterrupted = "interrupted"
)

// NodeRun is one run of one node within a tree run, folded from its
// node.started event and the first terminal event of the same attempt.
type NodeRun struct {
	NodeID  core.NodeID   `json:"node_id"`
	Parent  core.NodeID   `json:"parent,omitempty"`
	Name    string        `json:"name,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Attempt int           `json:"attempt"`
	Started time.Time     `json:"started"`
	Outcome string        `json:"outcome"`
	Elapsed time.Duration `json:"elapsed_ns,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// NodeRunLister is implemented by stores that can fold node runs
// themselves.
type NodeRunLister interface {
	NodeRuns(ctx context.Context, runID string) ([]NodeRun, error)
}

// NodeRuns returns the node runs of runID in start order. Stores that do
// not implement NodeRunLister are folded from List.
func NodeRuns(ctx context.Context, store EventStore, runID string) ([]NodeRun, error) {
	if l, ok := store.(NodeRunLister); ok {
		return l.NodeRuns(ctx, runID)
	}
	events, err := store.List(ctx, runID, 0, 0)
	if err != nil {
		return nil, err
	}
	return FoldNodeRuns(events), nil
}

type nodeAttempt struct {
	id      core.NodeID
	attempt int
}

// FoldNodeRuns folds events, in Seq order, into node runs.
func FoldNodeRuns(events []runtime.Event) []NodeRun {
	var runs []NodeRun
	open := make(map[nodeAttempt]int)
	for _, e := range events {
		key := nodeAttempt{e.NodeID, e.Attempt}
		switch e.Kind {
		case runtime.EventNodeStarted:
			open[key] = len(runs)
			runs = append(runs, NodeRun{
				NodeID:  e.NodeID,
				Parent:  payloadNodeID(e.Payload, "parent"),
				Name:    e.NodeName,
				Kind:    e.NodeKind,
				Attempt: e.Attempt,
				Started: e.Time,
				Outcome: OutcomeRunning,
			})
		case runtime.EventNodeFinished, runtime.EventNodeFailed, runtime.EventNodeInterrupted:
			i, ok := open[key]
			if !ok {
				continue
			}
			delete(open, key)
			runs[i].end(e.Kind, e.Payload, e.Elapsed)
		}
	}
	return runs
}

func (r *NodeRun) end(kind runtime.EventKind, payload map[string]any, elapsed time.Duration) {
	switch kind {
	case runtime.EventNodeInterrupted:
		r.Outcome = OutcomeInterrupted
	case runtime.EventNodeFailed:
		r.Outcome = OutcomeFailure
	default:
		r.Outcome = OutcomeSuccess
	}
	r.Elapsed = elapsed
	if msg, ok := payload["error"].(string); ok {
		r.Error = msg
	}
}

// payloadNodeID reads a node id from a payload, both as emitted and after a
// JSON round trip.
func payloadNodeID(payload map[string]any, key string) core.NodeID {
	switch v := payload[key].(type) {
	case core.NodeID:
		return v
	case uint64:
		return core.NodeID(v)
	case int:
		if v > 0 {
			return core.NodeID(v)
		}
	case float64:
		if v > 0 {
			return core.NodeID(v)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return core.NodeID(n)
		}
	}
	return core.NoParent
}
