// Package metrics exposes arbor runtime events as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petal-labs/arbor/runtime"
)

const namespace = "arbor"

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120}

// Collector counts runtime events. Its Handle method is a runtime.EventHandler
// and can be attached to an engine or a bus subscription.
type Collector struct {
	events       *prometheus.CounterVec   // by kind
	runsStarted  *prometheus.CounterVec   // by tree
	runsFinished *prometheus.CounterVec   // by tree, outcome
	runDuration  *prometheus.HistogramVec // by tree
	activeRuns   prometheus.Gauge
	nodeRuns     *prometheus.CounterVec   // by kind, result
	nodeDuration *prometheus.HistogramVec // by kind
	interrupts   *prometheus.CounterVec   // by kind
	discarded    prometheus.Counter
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of runtime events by kind",
		}, []string{"kind"}),

		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "started_total",
			Help:      "Total number of tree runs started",
		}, []string{"tree"}),

		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "finished_total",
			Help:      "Total number of tree runs finished",
		}, []string{"tree", "outcome"}), // outcome: success, failure, interrupted

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Tree run duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"tree"}),

		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "active",
			Help:      "Current number of tree runs in flight",
		}),

		nodeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "runs_total",
			Help:      "Total number of completed node runs",
		}, []string{"kind", "result"}),

		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "duration_seconds",
			Help:      "Node run duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"kind"}),

		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "interrupts_total",
			Help:      "Total number of node runs cleared by an interrupt",
		}, []string{"kind"}),

		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "discarded_total",
			Help:      "Total number of stale asynchronous completions dropped",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.events, c.runsStarted, c.runsFinished, c.runDuration, c.activeRuns,
		c.nodeRuns, c.nodeDuration, c.interrupts, c.discarded,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register arbor metrics: %w", err)
		}
	}
	return c, nil
}

// Handle records e.
func (c *Collector) Handle(e runtime.Event) {
	c.events.WithLabelValues(e.Kind.String()).Inc()

	switch e.Kind {
	case runtime.EventRunStarted:
		c.runsStarted.WithLabelValues(e.NodeName).Inc()
		c.activeRuns.Inc()
	case runtime.EventRunFinished:
		outcome := payloadString(e, "result")
		if outcome == "" {
			outcome = payloadString(e, "status")
		}
		c.runsFinished.WithLabelValues(e.NodeName, outcome).Inc()
		c.runDuration.WithLabelValues(e.NodeName).Observe(e.Elapsed.Seconds())
		c.activeRuns.Dec()
	case runtime.EventNodeFinished, runtime.EventNodeFailed:
		c.nodeRuns.WithLabelValues(e.NodeKind, payloadString(e, "result")).Inc()
		c.nodeDuration.WithLabelValues(e.NodeKind).Observe(e.Elapsed.Seconds())
	case runtime.EventNodeInterrupted:
		c.interrupts.WithLabelValues(e.NodeKind).Inc()
	case runtime.EventTaskDiscarded:
		c.discarded.Inc()
	}
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func payloadString(e runtime.Event, key string) string {
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}
