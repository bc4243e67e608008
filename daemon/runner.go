package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/hydrate"
	"github.com/petal-labs/arbor/loader"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/runtime"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Factory hydrates node definitions. Nil uses hydrate.NewFactory().
	Factory *hydrate.Factory

	// EventHandler receives every event of every run.
	EventHandler runtime.EventHandler

	// EventBus, when set, is published to by every engine.
	EventBus runtime.EventPublisher

	// EventEmitterDecorator wraps each engine's emitter.
	EventEmitterDecorator runtime.EventEmitterDecorator

	// TickInterval is the pass interval while awaiting a result.
	TickInterval time.Duration

	Logger *slog.Logger
}

// Report describes one finished tree run.
type Report struct {
	RunID   string        `json:"run_id"`
	Tree    string        `json:"tree"`
	Result  core.Result   `json:"-"`
	Outcome string        `json:"outcome"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Runner loads tree files and drives them to a result, each run on a fresh
// engine.
type Runner struct {
	factory   *hydrate.Factory
	handler   runtime.EventHandler
	bus       runtime.EventPublisher
	decorator runtime.EventEmitterDecorator
	interval  time.Duration
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Factory == nil {
		cfg.Factory = hydrate.NewFactory()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = runtime.DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		factory:   cfg.Factory,
		handler:   cfg.EventHandler,
		bus:       cfg.EventBus,
		decorator: cfg.EventEmitterDecorator,
		interval:  cfg.TickInterval,
		logger:    cfg.Logger,
	}
}

// Factory returns the node factory used to hydrate trees.
func (r *Runner) Factory() *hydrate.Factory {
	return r.factory
}

// LoadFile reads and validates the tree in path against the runner's
// registry. Validation errors are returned as a *graph.DiagnosticError.
func (r *Runner) LoadFile(path string) (*graph.TreeDefinition, error) {
	def, diags, err := loader.ValidateFile(path, r.factory.Registry())
	if err != nil {
		return nil, err
	}
	if graph.HasErrors(diags) {
		return nil, &graph.DiagnosticError{Diagnostics: diags}
	}
	return def, nil
}

// RunFile loads the tree in path and runs it.
func (r *Runner) RunFile(ctx context.Context, path string) (Report, error) {
	def, err := r.LoadFile(path)
	if err != nil {
		return Report{}, err
	}
	return r.Run(ctx, def)
}

// Run builds def on a new engine and drives it until it produces a result
// or ctx ends. On cancellation the tree is interrupted and the report
// carries the run id with the context error.
func (r *Runner) Run(ctx context.Context, def *graph.TreeDefinition) (Report, error) {
	e := runtime.New(runtime.Options{
		Logger:                r.logger,
		EventHandler:          r.handler,
		EventBus:              r.bus,
		EventEmitterDecorator: r.decorator,
	})
	defer e.Close()
	nodes.Register(e)

	report := Report{Tree: treeName(def)}
	root, err := hydrate.HydrateTree(e, def, r.factory)
	if err != nil {
		return report, fmt.Errorf("build %s: %w", report.Tree, err)
	}

	report.Started = e.Now()
	report.RunID, err = e.Run(root)
	if err != nil {
		return report, fmt.Errorf("run %s: %w", report.Tree, err)
	}
	result, err := e.Await(ctx, root, r.interval)
	report.Elapsed = e.Now().Sub(report.Started)
	if err != nil {
		report.Outcome = "interrupted"
		return report, err
	}
	report.Result = result
	report.Outcome = result.String()

	r.logger.Info("tree finished",
		"tree", report.Tree,
		"run_id", report.RunID,
		"result", report.Outcome,
		"elapsed", report.Elapsed,
	)
	return report, nil
}

func treeName(def *graph.TreeDefinition) string {
	if def.ID != "" {
		return def.ID
	}
	if def.Root.Name != "" {
		return def.Root.Name
	}
	return def.Root.Type
}
