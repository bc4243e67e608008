// Package daemon runs arbor trees as a long-lived service: trees fire on
// cron schedules, their events are persisted to an event store, and an
// admin HTTP server exposes health, Prometheus metrics, schedules and
// stored runs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/arbor/bus"
	"github.com/petal-labs/arbor/hydrate"
	"github.com/petal-labs/arbor/metrics"
	arborotel "github.com/petal-labs/arbor/otel"
	"github.com/petal-labs/arbor/runtime"
)

const shutdownTimeout = 10 * time.Second

// Options carries dependencies that do not come from the config file.
type Options struct {
	Logger *slog.Logger

	// Factory hydrates node definitions. Nil uses hydrate.NewFactory().
	Factory *hydrate.Factory

	// Tracer, when set, records a span per run and node.
	Tracer trace.Tracer
}

// Daemon wires the runner, scheduler, event store and admin server.
type Daemon struct {
	cfg       Config
	logger    *slog.Logger
	bus       *bus.MemBus
	store     bus.EventStore
	runner    *Runner
	scheduler *Scheduler
	server    *Server
}

// New assembles a daemon from cfg. The event store is opened here and
// closed by Run.
func New(cfg Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := OpenEventStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	promReg := metrics.NewRegistry()
	collector, err := metrics.New(promReg)
	if err != nil {
		_ = CloseEventStore(store)
		return nil, err
	}

	handlers := []runtime.EventHandler{collector.Handle}
	var decorate runtime.EventEmitterDecorator
	if opts.Tracer != nil {
		tracing := arborotel.NewTracingHandler(opts.Tracer)
		handlers = append(handlers, tracing.Handle)
		decorate = func(next runtime.EventEmitter) runtime.EventEmitter {
			return arborotel.EnrichEmitter(next, tracing)
		}
	}

	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	runner := NewRunner(RunnerConfig{
		Factory:               opts.Factory,
		EventHandler:          runtime.MultiEventHandler(handlers...),
		EventBus:              eventBus,
		EventEmitterDecorator: decorate,
		TickInterval:          cfg.TickInterval,
		Logger:                logger,
	})

	scheduler, err := NewScheduler(SchedulerConfig{
		Runner:    runner,
		Schedules: cfg.Schedules,
		Logger:    logger,
	})
	if err != nil {
		_ = CloseEventStore(store)
		return nil, err
	}

	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		bus:       eventBus,
		store:     store,
		runner:    runner,
		scheduler: scheduler,
		server: NewServer(ServerConfig{
			Scheduler: scheduler,
			Store:     store,
			Bus:       eventBus,
			Registry:  runner.Factory().Registry(),
			Metrics:   metrics.Handler(promReg),
			Logger:    logger,
		}),
	}, nil
}

// Handler returns the admin HTTP handler.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

// Scheduler returns the daemon's scheduler.
func (d *Daemon) Scheduler() *Scheduler {
	return d.scheduler
}

// Run starts persisting events, the scheduler and, when Listen is set, the
// admin server. It blocks until ctx ends, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	sub := d.bus.SubscribeAll()
	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		bus.NewStoreSubscriber(d.store, d.logger).Consume(context.Background(), sub)
	}()

	if err := d.scheduler.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if d.cfg.Listen != "" {
		ln, err := net.Listen("tcp", d.cfg.Listen)
		if err != nil {
			_ = d.shutdown(nil, persisted)
			return fmt.Errorf("listen on %s: %w", d.cfg.Listen, err)
		}
		srv = &http.Server{
			Handler:           d.server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		d.logger.Info("admin server listening", "addr", ln.Addr().String())
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	d.logger.Info("daemon started", "schedules", len(d.cfg.Schedules), "store", d.cfg.Store.Driver)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		d.logger.Error("admin server failed", "error", runErr)
	}
	return errors.Join(runErr, d.shutdown(srv, persisted))
}

func (d *Daemon) shutdown(srv *http.Server, persisted <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}
	errs = append(errs, d.scheduler.Stop(ctx))

	// Closing the bus ends the store subscriber once it has drained.
	errs = append(errs, d.bus.Close())
	select {
	case <-persisted:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	errs = append(errs, CloseEventStore(d.store))
	d.logger.Info("daemon stopped")
	return errors.Join(errs...)
}
