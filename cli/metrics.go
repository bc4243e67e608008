package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	arborotel "github.com/petal-labs/arbor/otel"
)

// runMetrics records one run through a MetricsHandler and reads the
// instruments back once the run is over.
type runMetrics struct {
	handler  *arborotel.MetricsHandler
	reader   *metric.ManualReader
	provider *metric.MeterProvider
}

func newRunMetrics() (*runMetrics, error) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(resource.NewSchemaless(attribute.String("service.name", "arbor"))),
	)
	h, err := arborotel.NewMetricsHandler(mp.Meter(tracerName))
	if err != nil {
		return nil, fmt.Errorf("creating metrics handler: %w", err)
	}
	return &runMetrics{handler: h, reader: reader, provider: mp}, nil
}

// nodeMetrics aggregates the instruments of one node kind and name.
type nodeMetrics struct {
	Kind       string        `json:"node_kind"`
	Name       string        `json:"node_name"`
	Runs       int64         `json:"runs"`
	Failures   int64         `json:"failures"`
	Interrupts int64         `json:"interrupts"`
	Time       time.Duration `json:"time_ns"`
}

type metricsSummary struct {
	Nodes          []nodeMetrics `json:"nodes"`
	TasksDiscarded int64         `json:"tasks_discarded"`
}

// summary collects the instruments and shuts the provider down.
func (m *runMetrics) summary(ctx context.Context) (metricsSummary, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return metricsSummary{}, fmt.Errorf("collecting metrics: %w", err)
	}
	_ = m.provider.Shutdown(ctx)

	type key struct{ kind, name string }
	byNode := make(map[key]*nodeMetrics)
	row := func(set attribute.Set) *nodeMetrics {
		k := key{attrString(set, "node_kind"), attrString(set, "node_name")}
		if byNode[k] == nil {
			byNode[k] = &nodeMetrics{Kind: k.kind, Name: k.name}
		}
		return byNode[k]
	}

	var s metricsSummary
	for _, scope := range rm.ScopeMetrics {
		for _, mt := range scope.Metrics {
			switch data := mt.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					switch mt.Name {
					case "arbor.node.executions":
						row(dp.Attributes).Runs += dp.Value
					case "arbor.node.failures":
						row(dp.Attributes).Failures += dp.Value
					case "arbor.node.interrupts":
						row(dp.Attributes).Interrupts += dp.Value
					case "arbor.task.discarded":
						s.TasksDiscarded += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				if mt.Name != "arbor.node.duration" {
					continue
				}
				for _, dp := range data.DataPoints {
					row(dp.Attributes).Time += time.Duration(dp.Sum * float64(time.Second))
				}
			}
		}
	}

	s.Nodes = make([]nodeMetrics, 0, len(byNode))
	for _, n := range byNode {
		s.Nodes = append(s.Nodes, *n)
	}
	slices.SortFunc(s.Nodes, func(a, b nodeMetrics) int {
		return cmp.Or(cmp.Compare(b.Time, a.Time), cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Name, b.Name))
	})
	return s, nil
}

func attrString(set attribute.Set, key attribute.Key) string {
	if v, ok := set.Value(key); ok {
		return v.AsString()
	}
	return ""
}

// writeMetrics prints the summary slowest node first.
func writeMetrics(w io.Writer, s metricsSummary, format string) error {
	if format == "json" {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "%-12s %-20s %6s %8s %10s %12s\n", "KIND", "NAME", "RUNS", "FAILURES", "INTERRUPTS", "TIME")
	for _, n := range s.Nodes {
		fmt.Fprintf(w, "%-12s %-20s %6d %8d %10d %12s\n",
			n.Kind, n.Name, n.Runs, n.Failures, n.Interrupts, n.Time.Round(time.Microsecond))
	}
	if s.TasksDiscarded > 0 {
		fmt.Fprintf(w, "tasks discarded: %d\n", s.TasksDiscarded)
	}
	return nil
}
