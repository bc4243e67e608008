package otel

import (
	"github.com/petal-labs/arbor/runtime"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// Node events take the ids of the node's open span, falling back to the run
// span. Events with no active span pass through unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.NodeID.Valid() {
			sc := tracing.ActiveSpanContext(e.RunID, e.NodeID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}
