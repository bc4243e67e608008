package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/arbor/runtime"
)

// MetricsHandler translates arbor runtime events into OpenTelemetry metrics.
// Attributes use node kind and name only; node ids are unbounded.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeInterrupts metric.Int64Counter
	tasksDiscarded metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to create
// instruments for recording arbor runtime metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("arbor.node.executions",
		metric.WithDescription("Number of completed node runs"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("arbor.node.failures",
		metric.WithDescription("Number of node runs that finished with Failure"),
	)
	if err != nil {
		return nil, err
	}

	nodeInt, err := meter.Int64Counter("arbor.node.interrupts",
		metric.WithDescription("Number of node runs cleared by an interrupt"),
	)
	if err != nil {
		return nil, err
	}

	discarded, err := meter.Int64Counter("arbor.task.discarded",
		metric.WithDescription("Number of stale asynchronous completions dropped"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("arbor.node.duration",
		metric.WithDescription("Duration of node runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("arbor.run.duration",
		metric.WithDescription("Duration of tree runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeInterrupts: nodeInt,
		tasksDiscarded: discarded,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
	}, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventNodeFinished, runtime.EventNodeFailed:
		attrs := nodeAttrs(e, attribute.String("result", payloadString(e, "result")))
		h.nodeExecutions.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
		if e.Kind == runtime.EventNodeFailed {
			h.nodeFailures.Add(ctx, 1, nodeAttrs(e))
		}
	case runtime.EventNodeInterrupted:
		h.nodeInterrupts.Add(ctx, 1, nodeAttrs(e))
	case runtime.EventTaskDiscarded:
		h.tasksDiscarded.Add(ctx, 1, nodeAttrs(e))
	case runtime.EventRunFinished:
		outcome := payloadString(e, "result")
		if outcome == "" {
			outcome = payloadString(e, "status")
		}
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.String("tree", e.NodeName),
			attribute.String("outcome", outcome),
		))
	}
}

func nodeAttrs(e runtime.Event, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("node_kind", e.NodeKind),
		attribute.String("node_name", e.NodeName),
	}, extra...)
	return metric.WithAttributes(attrs...)
}
