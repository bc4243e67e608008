package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/arbor/bus"
	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/daemon"
	"github.com/petal-labs/arbor/graph"
	arborotel "github.com/petal-labs/arbor/otel"
	"github.com/petal-labs/arbor/runtime"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a behavior tree file until it produces a result",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout (0 disables)")
	cmd.Flags().Duration("tick", runtime.DefaultTickInterval, "Interval between engine passes")
	cmd.Flags().Bool("events", false, "Stream runtime events to stdout as JSON lines")
	cmd.Flags().String("otlp-endpoint", "", "Export spans over OTLP/HTTP (default: $ARBOR_OTLP_ENDPOINT)")
	cmd.Flags().Bool("persist", false, "Write events to the configured event store")
	cmd.Flags().Bool("metrics", false, "Print per-node metrics to stderr after the run")
	addConfigFlag(cmd)
	addStoreFlags(cmd)

	return cmd
}

// runOptions are the parsed flags of the run command.
type runOptions struct {
	format  string
	timeout time.Duration
	tick    time.Duration
	events  bool
	tracer  trace.Tracer
	metrics *runMetrics
	store   bus.EventStore
	logger  *slog.Logger
}

func runRun(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitValidation, "unknown format %q (use text or json)", format)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	tick, _ := cmd.Flags().GetDuration("tick")
	events, _ := cmd.Flags().GetBool("events")

	opts := runOptions{
		format:  format,
		timeout: timeout,
		tick:    tick,
		events:  events,
		logger:  commandLogger(cmd, slog.LevelWarn),
	}

	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	if endpoint == "" {
		endpoint = os.Getenv("ARBOR_OTLP_ENDPOINT")
	}
	if endpoint != "" {
		tracer, shutdown, err := setupTracing(cmd.Context(), endpoint)
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				opts.logger.Warn("flushing spans failed", "error", err)
			}
		}()
		opts.tracer = tracer
	}

	if withMetrics, _ := cmd.Flags().GetBool("metrics"); withMetrics {
		m, err := newRunMetrics()
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		opts.metrics = m
	}

	if persist, _ := cmd.Flags().GetBool("persist"); persist {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := applyStoreFlags(cmd, &cfg); err != nil {
			return err
		}
		store, err := daemon.OpenEventStore(cfg.Store)
		if err != nil {
			return exitError(exitRuntime, "opening event store: %v", err)
		}
		defer func() { _ = daemon.CloseEventStore(store) }()
		opts.store = store
	}

	return runTree(cmd, args[0], opts)
}

func runTree(cmd *cobra.Command, path string, opts runOptions) error {
	out := cmd.OutOrStdout()

	var handlers []runtime.EventHandler
	var decorate runtime.EventEmitterDecorator
	closeEvents := func() {}
	if opts.events {
		te := bus.NewThrottledEmitter(newEventStream(out).write, bus.ThrottleConfig{})
		handlers = append(handlers, te.Emit)
		closeEvents = te.Close
	}
	if opts.store != nil {
		handlers = append(handlers, bus.NewStoreSubscriber(opts.store, opts.logger).Handle)
	}
	if opts.metrics != nil {
		handlers = append(handlers, opts.metrics.handler.Handle)
	}
	if opts.tracer != nil {
		tracing := arborotel.NewTracingHandler(opts.tracer)
		handlers = append(handlers, tracing.Handle)
		decorate = func(next runtime.EventEmitter) runtime.EventEmitter {
			return arborotel.EnrichEmitter(next, tracing)
		}
	}

	runner := daemon.NewRunner(daemon.RunnerConfig{
		EventHandler:          runtime.MultiEventHandler(handlers...),
		EventEmitterDecorator: decorate,
		TickInterval:          opts.tick,
		Logger:                opts.logger,
	})

	def, err := runner.LoadFile(path)
	if err != nil {
		closeEvents()
		return loadError(cmd, path, err)
	}

	ctx, cancel := runContext(cmd.Context(), opts.timeout)
	defer cancel()

	report, err := runner.Run(ctx, def)
	closeEvents()
	if opts.metrics != nil && report.RunID != "" {
		if s, serr := opts.metrics.summary(context.WithoutCancel(ctx)); serr != nil {
			opts.logger.Warn("collecting metrics failed", "error", serr)
		} else if werr := writeMetrics(cmd.ErrOrStderr(), s, opts.format); werr != nil {
			return werr
		}
	}
	if err != nil {
		if report.RunID != "" && opts.format == "text" {
			newPrinter(cmd, out).result(report.Outcome, "%s (run %s) after %s", report.Tree, report.RunID, report.Elapsed.Round(time.Millisecond))
		}
		return runError(ctx, opts.timeout, err)
	}

	if err := writeReport(cmd, out, report, opts.format); err != nil {
		return err
	}
	if report.Result == core.Failure {
		return exitError(exitTreeFailed, "tree %s finished with failure", report.Tree)
	}
	return nil
}

func runContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// loadError maps a tree loading failure to its exit code. Validation
// diagnostics are printed to stderr.
func loadError(cmd *cobra.Command, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return exitError(exitFileNotFound, "file not found: %s", path)
	}
	var diagErr *graph.DiagnosticError
	if errors.As(err, &diagErr) {
		printDiagnosticsText(cmd.ErrOrStderr(), diagErr.Diagnostics)
		return exitError(exitValidation, "validation failed")
	}
	return exitError(exitValidation, "%v", err)
}

func runError(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return exitError(exitTimeout, "execution timed out after %s", timeout)
	}
	return exitError(exitRuntime, "execution failed: %v", err)
}

func writeReport(cmd *cobra.Command, w io.Writer, report daemon.Report, format string) error {
	if format == "json" {
		return writeJSON(w, report)
	}
	newPrinter(cmd, w).result(report.Outcome, "%s (run %s) in %s",
		report.Tree, report.RunID, report.Elapsed.Round(time.Millisecond))
	return nil
}

// eventStream writes events as JSON lines. Events may arrive from task
// goroutines and the throttle flusher at once.
type eventStream struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventStream(w io.Writer) *eventStream {
	return &eventStream{enc: json.NewEncoder(w)}
}

func (s *eventStream) write(e runtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(e)
}
