// Package orchestrator turns task declarations into registered tasks and
// scheduler bindings, and exposes the operations of the command line and the
// control plane.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/cronexpr"
	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/scheduler"
	"github.com/t77yq/pushbot/internal/task"
)

// SourceFactory builds the source of a task declaration
type SourceFactory interface {
	Build(decl config.TaskConfig) (task.Source, error)
}

// Option configures an Orchestrator
type Option func(*options)

type options struct {
	observer task.Observer
	now      func() time.Time
}

// WithObserver sets the observer notified after every execution
func WithObserver(o task.Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// WithClock overrides the clock shared by the registry and the scheduler
func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

// Orchestrator owns the registry and the scheduler built from a configuration
type Orchestrator struct {
	logger        *zap.Logger
	registry      *task.Registry
	scheduler     *scheduler.Scheduler
	decls         []config.TaskConfig
	loc           *time.Location
	now           func() time.Time
	shutdownGrace time.Duration
}

// New validates cfg and registers and binds every declared task. Any
// configuration error aborts construction.
func New(cfg *config.Config, factory SourceFactory, notifier task.Notifier, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	registryOpts := []task.Option{task.WithClock(o.now)}
	if o.observer != nil {
		registryOpts = append(registryOpts, task.WithObserver(o.observer))
	}
	registry := task.NewRegistry(logger, registryOpts...)

	sched := scheduler.New(registry, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		MisfireGrace: cfg.Scheduler.MisfireGrace,
		Workers:      cfg.Scheduler.Workers,
		Location:     loc,
		RunOnStart:   cfg.Scheduler.RunOnStart,
	}, logger, scheduler.WithClock(o.now))

	orch := &Orchestrator{
		logger:        logger.Named("orchestrator"),
		registry:      registry,
		scheduler:     sched,
		decls:         append([]config.TaskConfig(nil), cfg.Tasks...),
		loc:           loc,
		now:           o.now,
		shutdownGrace: cfg.Scheduler.ShutdownGrace,
	}

	var buildErr error
	for _, decl := range cfg.Tasks {
		buildErr = multierr.Append(buildErr, orch.add(decl, factory, notifier, logger))
	}
	if buildErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, buildErr)
	}

	orch.logger.Info("Orchestrator ready",
		zap.Int("tasks", len(cfg.Tasks)),
		zap.String("timezone", loc.String()))

	return orch, nil
}

func (o *Orchestrator) add(decl config.TaskConfig, factory SourceFactory, notifier task.Notifier, logger *zap.Logger) error {
	source, err := factory.Build(decl)
	if err != nil {
		return fmt.Errorf("task %q: %w", decl.Name, err)
	}

	t := task.New(decl.Name, source, notifier, logger)
	if !decl.IsEnabled() {
		t.Disable()
	}
	o.registry.Register(t)

	if decl.IsEnabled() {
		if !o.scheduler.AddBinding(decl.Name, decl.Cron) {
			return fmt.Errorf("task %q: cannot bind cron expression %q", decl.Name, decl.Cron)
		}
		return nil
	}

	// Disabled tasks keep their binding so enabling them at runtime resumes
	// scheduled firing.
	if !cronexpr.Validate(decl.Cron) || !o.scheduler.AddBinding(decl.Name, decl.Cron) {
		o.logger.Warn("Disabled task has an unusable cron expression, not binding it",
			zap.String("task", decl.Name),
			zap.String("expression", decl.Cron))
	}
	return nil
}

// ListTasks returns the registered task names in order
func (o *Orchestrator) ListTasks() []string {
	return o.registry.ListNames()
}

// TaskStatus returns the status of a task
func (o *Orchestrator) TaskStatus(name string) (model.Status, bool) {
	return o.registry.StatusOf(name)
}

// AllStatus returns the status of every task
func (o *Orchestrator) AllStatus() map[string]model.Status {
	return o.registry.StatusOfAll()
}

// EnableTask enables a task
func (o *Orchestrator) EnableTask(name string) bool {
	return o.registry.Enable(name)
}

// DisableTask disables a task
func (o *Orchestrator) DisableTask(name string) bool {
	return o.registry.Disable(name)
}

// RunTask runs one task in the calling goroutine. It is a manual test run and
// ignores the enabled flag.
func (o *Orchestrator) RunTask(ctx context.Context, name string) (model.ExecutionResult, error) {
	result, found := o.registry.ExecuteManual(ctx, name)
	if !found {
		return model.ExecutionResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return result, nil
}

// RunOnce runs the named task, or every enabled task when name is empty, and
// reports whether everything that ran succeeded.
func (o *Orchestrator) RunOnce(ctx context.Context, name string) bool {
	if name != "" {
		result, err := o.RunTask(ctx, name)
		return err == nil && result.Succeeded()
	}

	for _, ok := range o.RunAllOnce(ctx) {
		if ok != nil && !*ok {
			return false
		}
	}
	return true
}

// RunAllOnce runs every enabled task once. Disabled tasks map to nil.
func (o *Orchestrator) RunAllOnce(ctx context.Context) map[string]*bool {
	o.logger.Info("Running all enabled tasks once")
	return o.registry.ExecuteAll(ctx)
}

// Trigger dispatches a task through the scheduler pool without waiting for
// it. Per-task exclusivity applies.
func (o *Orchestrator) Trigger(name string) error {
	if _, ok := o.registry.Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return o.scheduler.Trigger(name)
}

// Schedule returns the live state of every binding
func (o *Orchestrator) Schedule() []model.ScheduleInfo {
	return o.scheduler.Snapshot()
}

// Declarations returns the task declarations with their current enabled flag
func (o *Orchestrator) Declarations() []config.TaskConfig {
	decls := make([]config.TaskConfig, 0, len(o.decls))
	for _, decl := range o.decls {
		if status, ok := o.registry.StatusOf(decl.Name); ok {
			enabled := status.Enabled
			decl.Enabled = &enabled
		}
		decls = append(decls, decl)
	}
	sort.SliceStable(decls, func(i, j int) bool {
		return decls[i].Name < decls[j].Name
	})
	return decls
}

// Start runs the scheduler until Stop is called or ctx is done, then waits up
// to the shutdown grace for in-flight executions.
func (o *Orchestrator) Start(ctx context.Context) error {
	err := o.scheduler.Start(ctx)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return err
	}

	waitCtx := context.Background()
	if o.shutdownGrace > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, o.shutdownGrace)
		defer cancel()
	}

	if waitErr := o.scheduler.Wait(waitCtx); waitErr != nil {
		o.logger.Warn("In-flight executions did not finish before shutdown",
			zap.Duration("shutdown_grace", o.shutdownGrace),
			zap.Error(waitErr))
	} else {
		o.logger.Info("All executions finished")
	}

	return err
}

// Stop halts scheduling. Start returns once in-flight executions drain.
func (o *Orchestrator) Stop() {
	o.scheduler.Stop()
}
