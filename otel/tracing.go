// Package otel provides OpenTelemetry integration for arbor runtime events.
package otel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"
)

type activeSpan struct {
	span trace.Span
	ctx  context.Context
}

// TracingHandler translates arbor runtime events into OpenTelemetry spans.
// Each run gets a root span; each node run gets a span nested under its
// parent node's span when that is still open, or under the run span.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]activeSpan // runID -> span
	nodeSpans map[string]activeSpan // runID:nodeID -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]activeSpan),
		nodeSpans: make(map[string]activeSpan),
	}
}

// Handle processes a runtime event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventNodeStarted:
		h.handleNodeStarted(e)
	case runtime.EventNodeFinished, runtime.EventNodeFailed:
		h.handleNodeFinished(e)
	case runtime.EventNodeInterrupted:
		h.handleNodeInterrupted(e)
	case runtime.EventNodeScore, runtime.EventNodeOutput, runtime.EventTaskDiscarded:
		h.handleSpanEvent(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	spanName := "run:" + e.RunID
	if e.NodeName != "" {
		spanName = "run:" + e.NodeName
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("arbor.run_id", e.RunID),
			attribute.Int64("arbor.root_id", int64(e.NodeID)),
		),
		trace.WithTimestamp(e.Time),
	)
	if e.NodeName != "" {
		span.SetAttributes(attribute.String("arbor.tree", e.NodeName))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = activeSpan{span: span, ctx: ctx}
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e runtime.Event) {
	parentCtx := context.Background()

	h.mu.RLock()
	if run, ok := h.runSpans[e.RunID]; ok {
		parentCtx = run.ctx
	}
	if pid, ok := e.Payload["parent"].(core.NodeID); ok {
		if parent, ok := h.nodeSpans[nodeKey(e.RunID, pid)]; ok {
			parentCtx = parent.ctx
		}
	}
	h.mu.RUnlock()

	spanName := "node:" + e.NodeID.String()
	if e.NodeName != "" {
		spanName = "node:" + e.NodeName
	}

	ctx, span := h.tracer.Start(parentCtx, spanName,
		trace.WithAttributes(
			attribute.String("arbor.run_id", e.RunID),
			attribute.Int64("arbor.node_id", int64(e.NodeID)),
			attribute.String("arbor.node_name", e.NodeName),
			attribute.String("arbor.node_kind", e.NodeKind),
			attribute.Int("arbor.attempt", e.Attempt),
		),
		trace.WithTimestamp(e.Time),
	)

	key := e.NodeKey()
	h.mu.Lock()
	prev, restarted := h.nodeSpans[key]
	h.nodeSpans[key] = activeSpan{span: span, ctx: ctx}
	h.mu.Unlock()

	if restarted {
		prev.span.End(trace.WithTimestamp(e.Time))
	}
}

// handleNodeFinished ends the node span. A Failure result is an ordinary
// outcome; the span status is only Error when the run failed with an error.
func (h *TracingHandler) handleNodeFinished(e runtime.Event) {
	span, ok := h.takeNodeSpan(e.NodeKey())
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("arbor.duration", e.Elapsed.String()),
		attribute.String("arbor.result", payloadString(e, "result")),
	)
	if msg := payloadString(e, "error"); msg != "" {
		span.SetStatus(codes.Error, msg)
		span.RecordError(spanError(msg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleNodeInterrupted(e runtime.Event) {
	span, ok := h.takeNodeSpan(e.NodeKey())
	if !ok {
		return
	}
	span.SetAttributes(attribute.Bool("arbor.interrupted", true))
	span.AddEvent("interrupted", trace.WithTimestamp(e.Time))
	span.End(trace.WithTimestamp(e.Time))
}

// handleSpanEvent records score updates, output lines and discarded task
// completions as span events on the node span, or on the run span when the
// node span has already ended.
func (h *TracingHandler) handleSpanEvent(e runtime.Event) {
	h.mu.RLock()
	target, ok := h.nodeSpans[e.NodeKey()]
	if !ok {
		target, ok = h.runSpans[e.RunID]
	}
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("arbor.event_kind", e.Kind.String()),
		attribute.Int64("arbor.node_id", int64(e.NodeID)),
	}
	for _, key := range []string{"score", "message", "line", "stream"} {
		if v := payloadString(e, key); v != "" {
			attrs = append(attrs, attribute.String("arbor."+key, v))
		}
	}
	target.span.AddEvent(e.Kind.String(), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	run, ok := h.runSpans[e.RunID]
	delete(h.runSpans, e.RunID)
	var orphans []trace.Span
	prefix := e.RunID + ":"
	for key, s := range h.nodeSpans {
		if strings.HasPrefix(key, prefix) {
			orphans = append(orphans, s.span)
			delete(h.nodeSpans, key)
		}
	}
	h.mu.Unlock()

	for _, s := range orphans {
		s.End(trace.WithTimestamp(e.Time))
	}
	if !ok {
		return
	}

	span := run.span
	span.SetAttributes(attribute.String("arbor.duration", e.Elapsed.String()))

	result := payloadString(e, "result")
	status := payloadString(e, "status")
	switch {
	case status != "":
		span.SetAttributes(attribute.String("arbor.status", status))
	case result == core.Failure.String():
		span.SetAttributes(attribute.String("arbor.result", result))
		span.SetStatus(codes.Error, "tree failed")
	default:
		span.SetAttributes(attribute.String("arbor.result", result))
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) takeNodeSpan(key string) (trace.Span, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.nodeSpans[key]
	if !ok {
		return nil, false
	}
	delete(h.nodeSpans, key)
	return s.span, true
}

// ActiveSpanContext returns the SpanContext for the active node span
// identified by runID and nodeID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveSpanContext(runID string, nodeID core.NodeID) trace.SpanContext {
	h.mu.RLock()
	s, ok := h.nodeSpans[nodeKey(runID, nodeID)]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	s, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}

func nodeKey(runID string, id core.NodeID) string {
	return runID + ":" + id.String()
}

func payloadString(e runtime.Event, key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
