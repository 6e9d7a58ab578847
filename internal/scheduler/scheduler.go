// Package scheduler fires cron bindings on a polling loop and runs the due
// tasks on a bounded worker pool.
//
// A firing whose scheduled time is older than the misfire grace window when
// the loop first observes it is skipped. However many intervals were missed,
// a binding fires at most once per scan and its next fire time is always
// recomputed from the scan time. A firing for a task that still has an
// execution in flight is dropped, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/cronexpr"
	"github.com/t77yq/pushbot/internal/model"
)

// Runner executes tasks by name
type Runner interface {
	// Runnable reports whether the task exists and is enabled
	Runnable(name string) bool

	// ExecuteOne runs the task and reports success
	ExecuteOne(ctx context.Context, name string) bool
}

// Config holds the scheduler settings
type Config struct {
	PollInterval time.Duration
	MisfireGrace time.Duration
	Workers      int
	Location     *time.Location
	RunOnStart   bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the scheduler clock
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

type binding struct {
	taskName string
	expr     *cronexpr.Expression
	next     time.Time
	last     time.Time
}

// Scheduler owns the cron bindings and the trigger loop
type Scheduler struct {
	logger *zap.Logger
	runner Runner
	cfg    Config
	now    func() time.Time
	pool   *Pool

	mu       sync.Mutex
	bindings map[string]*binding
	state    state
	stop     chan struct{}
	stopOnce sync.Once
	execCtx  context.Context
}

// New creates a new scheduler
func New(runner Runner, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultMisfireGrace
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	s := &Scheduler{
		logger:   logger.Named("scheduler"),
		runner:   runner,
		cfg:      cfg,
		now:      time.Now,
		pool:     NewPool(cfg.Workers, logger),
		bindings: make(map[string]*binding),
		stop:     make(chan struct{}),
		execCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool.now = s.clock
	return s
}

// AddBinding binds a task to a cron expression, replacing any existing
// binding for the task.
func (s *Scheduler) AddBinding(taskName, expression string) bool {
	if taskName == "" {
		s.logger.Error("Refusing binding without a task name")
		return false
	}

	expr, err := cronexpr.Parse(expression)
	if err != nil {
		s.logger.Error("Invalid cron expression",
			zap.String("task", taskName),
			zap.String("expression", expression),
			zap.Error(err))
		return false
	}

	next, err := expr.Next(s.clock())
	if err != nil {
		s.logger.Error("Cron expression never fires",
			zap.String("task", taskName),
			zap.String("expression", expression),
			zap.Error(err))
		return false
	}

	s.mu.Lock()
	if _, exists := s.bindings[taskName]; exists {
		s.logger.Warn("Replacing binding", zap.String("task", taskName))
	}
	s.bindings[taskName] = &binding{
		taskName: taskName,
		expr:     expr,
		next:     next,
	}
	s.mu.Unlock()

	s.logger.Info("Added binding",
		zap.String("task", taskName),
		zap.String("expression", expr.String()),
		zap.Time("next_fire", next))
	return true
}

// RemoveBinding removes the binding for a task
func (s *Scheduler) RemoveBinding(taskName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bindings[taskName]; !exists {
		return false
	}
	delete(s.bindings, taskName)

	s.logger.Info("Removed binding", zap.String("task", taskName))
	return true
}

// NextFireTime returns the next fire time of a binding
func (s *Scheduler) NextFireTime(taskName string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[taskName]
	if !ok || b.next.IsZero() {
		return time.Time{}, false
	}
	return b.next, true
}

// Snapshot returns every binding ordered by task name
func (s *Scheduler) Snapshot() []model.ScheduleInfo {
	inFlight := s.pool.InFlight()

	s.mu.Lock()
	infos := make([]model.ScheduleInfo, 0, len(s.bindings))
	for _, b := range s.bindings {
		info := model.ScheduleInfo{
			TaskName:   b.taskName,
			Expression: b.expr.String(),
		}
		if !b.next.IsZero() {
			next := b.next
			info.NextFireTime = &next
		}
		if !b.last.IsZero() {
			last := b.last
			info.LastFireTime = &last
		}
		if since, ok := inFlight[b.taskName]; ok {
			info.Running = true
			info.RunningSince = &since
		}
		infos = append(infos, info)
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].TaskName < infos[j].TaskName
	})
	return infos
}

// Start runs the trigger loop until Stop is called or ctx is done. It returns
// ErrAlreadyRunning if the loop is already running and ErrStopped if the
// scheduler was stopped before.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case stateStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	s.state = stateRunning
	s.execCtx = context.WithoutCancel(ctx)
	bindings := len(s.bindings)
	s.mu.Unlock()

	defer s.Stop()

	s.logger.Info("Scheduler started",
		zap.Int("bindings", bindings),
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("misfire_grace", s.cfg.MisfireGrace),
		zap.Int("workers", s.cfg.Workers))

	if s.cfg.RunOnStart {
		s.triggerAll()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	tick := func() error {
		if err := s.scan(s.clock()); err != nil {
			failures++
			s.logger.Error("Trigger scan failed",
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			if failures >= maxConsecutiveScanFailures {
				return fmt.Errorf("%w after %d attempts: %v", ErrScanFailed, failures, err)
			}
			return nil
		}
		failures = 0
		return nil
	}

	if err := tick(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context done")
			return nil
		case <-s.stop:
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if err := tick(); err != nil {
				return err
			}
		}
	}
}

// Running reports whether the trigger loop is running
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Stop halts future dispatch. In-flight executions keep running; use Wait to
// drain them. Stop is idempotent and final.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Wait waits for in-flight executions to finish or ctx to be done
func (s *Scheduler) Wait(ctx context.Context) error {
	return s.pool.Wait(ctx)
}

// Trigger dispatches a bound task immediately, subject to the same
// exclusivity rule as scheduled firings. It does not wait for the run.
func (s *Scheduler) Trigger(taskName string) error {
	s.mu.Lock()
	stopped := s.state == stateStopped
	_, bound := s.bindings[taskName]
	s.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if !bound {
		return fmt.Errorf("%w: %s", ErrBindingNotFound, taskName)
	}
	if !s.runner.Runnable(taskName) {
		return fmt.Errorf("%w: %s", ErrTaskNotRunnable, taskName)
	}

	return s.dispatch(taskName)
}

func (s *Scheduler) triggerAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.bindings))
	for name := range s.bindings {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Trigger(name); err != nil && !errors.Is(err, ErrTaskNotRunnable) {
			s.logger.Warn("Failed to trigger task on start",
				zap.String("task", name),
				zap.Error(err))
		}
	}
}

type firing struct {
	binding   *binding
	taskName  string
	scheduled time.Time
}

// scan fires every binding that is due at now
func (s *Scheduler) scan(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during scan: %v", r)
		}
	}()

	for _, f := range s.collectDue(now) {
		if !s.runner.Runnable(f.taskName) {
			s.logger.Debug("Skipping firing for disabled or unknown task",
				zap.String("task", f.taskName))
			continue
		}

		if err := s.dispatch(f.taskName); err != nil {
			continue
		}

		s.mu.Lock()
		f.binding.last = now
		s.mu.Unlock()

		s.logger.Info("Dispatched task",
			zap.String("task", f.taskName),
			zap.Time("scheduled", f.scheduled),
			zap.Duration("lateness", now.Sub(f.scheduled)))
	}
	return nil
}

// collectDue advances every due binding and returns the firings to dispatch
func (s *Scheduler) collectDue(now time.Time) []firing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []firing
	for _, b := range s.bindings {
		if b.next.IsZero() || b.next.After(now) {
			continue
		}

		scheduled := b.next
		next, err := b.expr.Next(now)
		if err != nil {
			s.logger.Error("Binding has no further fire time",
				zap.String("task", b.taskName),
				zap.Error(err))
			next = time.Time{}
		}
		b.next = next

		if lateness := now.Sub(scheduled); lateness > s.cfg.MisfireGrace {
			s.logger.Warn("Skipping misfired firing",
				zap.String("task", b.taskName),
				zap.Time("scheduled", scheduled),
				zap.Duration("lateness", lateness),
				zap.Time("next_fire", next))
			continue
		}

		due = append(due, firing{binding: b, taskName: b.taskName, scheduled: scheduled})
	}
	return due
}

func (s *Scheduler) dispatch(taskName string) error {
	s.mu.Lock()
	ctx := s.execCtx
	s.mu.Unlock()

	err := s.pool.Submit(taskName, func() {
		s.runner.ExecuteOne(ctx, taskName)
	})
	if errors.Is(err, ErrTaskRunning) {
		since, _ := s.pool.RunningSince(taskName)
		s.logger.Warn("Dropping firing, task still running",
			zap.String("task", taskName),
			zap.Time("running_since", since),
			zap.Duration("running_for", s.clock().Sub(since)))
	} else if err != nil {
		s.logger.Warn("Dropping firing", zap.String("task", taskName), zap.Error(err))
	}
	return err
}

func (s *Scheduler) clock() time.Time {
	return s.now().In(s.cfg.Location)
}
