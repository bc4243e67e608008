package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultSchedulePollInterval = time.Second

// ErrUnknownSchedule is returned by Trigger for a name not in the config.
var ErrUnknownSchedule = errors.New("unknown schedule")

// ScheduleStatus is the outcome of a schedule's last firing.
type ScheduleStatus string

const (
	ScheduleStatusIdle           ScheduleStatus = "idle"
	ScheduleStatusRunning        ScheduleStatus = "running"
	ScheduleStatusCompleted      ScheduleStatus = "completed"
	ScheduleStatusFailed         ScheduleStatus = "failed"
	ScheduleStatusSkippedOverlap ScheduleStatus = "skipped_overlap"
)

// ScheduleState is the live view of one configured schedule.
type ScheduleState struct {
	Name        string         `json:"name"`
	Cron        string         `json:"cron"`
	File        string         `json:"file"`
	Enabled     bool           `json:"enabled"`
	NextRunAt   time.Time      `json:"next_run_at"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	LastStatus  ScheduleStatus `json:"last_status"`
	LastRunID   string         `json:"last_run_id,omitempty"`
	LastOutcome string         `json:"last_outcome,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// SchedulerConfig configures the background schedule runner.
type SchedulerConfig struct {
	Runner       *Runner
	Schedules    []ScheduleConfig
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler runs trees on cron schedules. Due schedules are found by
// polling; a schedule whose previous run is still in flight is skipped.
type Scheduler struct {
	runner       *Runner
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	configs  map[string]ScheduleConfig
	states   map[string]*ScheduleState
	order    []string
	active   map[string]struct{}
	inflight sync.WaitGroup
	runCtx   context.Context
	stopRuns context.CancelFunc
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a scheduler. Every schedule's first firing is the
// next cron time after now.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("scheduler runner is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	runCtx, stopRuns := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:       cfg.Runner,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
		configs:      make(map[string]ScheduleConfig, len(cfg.Schedules)),
		states:       make(map[string]*ScheduleState, len(cfg.Schedules)),
		active:       map[string]struct{}{},
		runCtx:       runCtx,
		stopRuns:     stopRuns,
	}

	now := s.now().UTC()
	for _, sc := range cfg.Schedules {
		if _, dup := s.configs[sc.Name]; dup {
			stopRuns()
			return nil, fmt.Errorf("schedule %q: duplicate name", sc.Name)
		}
		next, err := nextCronRunUTC(sc.Cron, now)
		if err != nil {
			stopRuns()
			return nil, fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		s.configs[sc.Name] = sc
		s.states[sc.Name] = &ScheduleState{
			Name:       sc.Name,
			Cron:       sc.Cron,
			File:       sc.File,
			Enabled:    sc.IsEnabled(),
			NextRunAt:  next,
			LastStatus: ScheduleStatusIdle,
		}
		s.order = append(s.order, sc.Name)
	}
	return s, nil
}

// Start starts background polling.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()

	_ = ctx
	return nil
}

// Stop stops polling, interrupts in-flight runs and waits for them to
// return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.stopRuns()
	finished := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every in-flight scheduled run has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// RunOnce fires every enabled schedule that is due. Runs proceed in the
// background.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		st := s.states[name]
		if !st.Enabled || st.NextRunAt.After(now) {
			continue
		}
		next, err := nextCronRunUTC(st.Cron, now)
		if err != nil {
			st.LastStatus = ScheduleStatusFailed
			st.LastError = err.Error()
			continue
		}
		st.NextRunAt = next

		if _, busy := s.active[name]; busy {
			st.LastStatus = ScheduleStatusSkippedOverlap
			st.LastError = "skipped because prior scheduled run is still active"
			s.logger.Warn("schedule skipped, previous run still active", "schedule", name)
			continue
		}
		s.launchLocked(name)
	}
}

// Trigger runs the named schedule now, regardless of its cron time, and
// waits for the result.
func (s *Scheduler) Trigger(ctx context.Context, name string) (Report, error) {
	s.mu.Lock()
	if _, ok := s.configs[name]; !ok {
		s.mu.Unlock()
		return Report{}, fmt.Errorf("%q: %w", name, ErrUnknownSchedule)
	}
	if _, busy := s.active[name]; busy {
		s.mu.Unlock()
		return Report{}, fmt.Errorf("schedule %q is already running", name)
	}
	s.active[name] = struct{}{}
	s.states[name].LastStatus = ScheduleStatusRunning
	s.inflight.Add(1)
	s.mu.Unlock()

	return s.runSchedule(ctx, name)
}

// Schedules returns a snapshot of every schedule in config order.
func (s *Scheduler) Schedules() []ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleState, 0, len(s.order))
	for _, name := range s.order {
		st := *s.states[name]
		if st.LastRunAt != nil {
			t := *st.LastRunAt
			st.LastRunAt = &t
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) launchLocked(name string) {
	s.active[name] = struct{}{}
	s.states[name].LastStatus = ScheduleStatusRunning
	s.states[name].LastError = ""
	s.inflight.Add(1)
	go func() {
		_, _ = s.runSchedule(s.runCtx, name)
	}()
}

// runSchedule runs one firing. The caller has marked name active and added
// to inflight.
func (s *Scheduler) runSchedule(ctx context.Context, name string) (Report, error) {
	defer s.inflight.Done()

	s.mu.Lock()
	sc := s.configs[name]
	s.mu.Unlock()

	if sc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sc.Timeout)
		defer cancel()
	}

	s.logger.Info("schedule fired", "schedule", name, "file", sc.File)
	report, runErr := s.runner.RunFile(ctx, sc.File)
	finish := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, name)

	st := s.states[name]
	st.LastRunAt = &finish
	st.LastRunID = report.RunID
	st.LastOutcome = report.Outcome
	if runErr != nil {
		st.LastStatus = ScheduleStatusFailed
		st.LastError = runErr.Error()
		s.logger.Error("scheduled run failed", "schedule", name, "run_id", report.RunID, "error", runErr)
	} else {
		st.LastStatus = ScheduleStatusCompleted
		st.LastError = ""
	}
	return report, runErr
}
