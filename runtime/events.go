package runtime

import (
	"time"

	"github.com/petal-labs/arbor/core"
)

// EventKind identifies the type of event emitted by the engine.
type EventKind string

const (
	// EventRunStarted is emitted when Engine.Run launches a tree.
	EventRunStarted EventKind = "run.started"

	// EventRunFinished is emitted when the launched node produces its final
	// result or is interrupted.
	EventRunFinished EventKind = "run.finished"

	// EventNodeStarted is emitted when a node becomes Running. Child nodes
	// carry their parent's core.NodeID under the "parent" payload key.
	EventNodeStarted EventKind = "node.started"

	// EventNodeFinished is emitted when a node finishes with Success.
	EventNodeFinished EventKind = "node.finished"

	// EventNodeFailed is emitted when a node finishes with Failure.
	EventNodeFailed EventKind = "node.failed"

	// EventNodeInterrupted is emitted for every node whose run state was
	// cleared by an interrupt.
	EventNodeInterrupted EventKind = "node.interrupted"

	// EventNodeScore is emitted when a score provider updates a node's Score.
	// High frequency; see bus.ThrottledEmitter.
	EventNodeScore EventKind = "node.score"

	// EventNodeOutput is emitted by leaves that produce output (logs, command
	// output).
	EventNodeOutput EventKind = "node.output"

	// EventTaskDiscarded is emitted when an asynchronous completion arrives
	// for a node that was interrupted, restarted or destroyed meanwhile.
	EventTaskDiscarded EventKind = "task.discarded"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured, streamable record of what happened during execution.
// Events are observations only; the engine never reads them back.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind `json:"kind"`

	// RunID is the id returned by Engine.Run for the enclosing run
	// (empty when the node was started outside of a run).
	RunID string `json:"run_id"`

	// NodeID is the node that produced this event (zero for run-level events).
	NodeID core.NodeID `json:"node_id"`

	// NodeName is the node's Meta name, if any.
	NodeName string `json:"node_name,omitempty"`

	// NodeKind is the node's Meta kind, if any (e.g. "sequence").
	NodeKind string `json:"node_kind,omitempty"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Attempt is the number of times the node has been started (1-indexed).
	Attempt int `json:"attempt"`

	// Elapsed is the duration since the run or node started.
	Elapsed time.Duration `json:"elapsed_ns"`

	// Payload contains event-specific data.
	Payload map[string]any `json:"payload,omitempty"`

	// Seq is a monotonic sequence number per engine (1-indexed).
	Seq uint64 `json:"seq"`

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string `json:"span_id,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Attempt: 1,
		Payload: make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(id core.NodeID, name, kind string) Event {
	e.NodeID = id
	e.NodeName = name
	e.NodeKind = kind
	return e
}

// WithAttempt sets the attempt number on the event.
func (e Event) WithAttempt(attempt int) Event {
	e.Attempt = attempt
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithTime overrides the event timestamp.
func (e Event) WithTime(t time.Time) Event {
	e.Time = t
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// NodeKey returns a stable string key for the event's node, unique per run.
func (e Event) NodeKey() string {
	return e.RunID + ":" + e.NodeID.String()
}

// EventEmitter is a function type for emitting events.
// Emitters must be safe for concurrent use: asynchronous tasks emit through
// the emitter stored in their context.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
// Typical uses include enriching emitted events (for example with trace metadata).
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the engine
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// The channel should have sufficient buffer to avoid blocking.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full
		}
	}
}
