package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

// Observer is notified after every execution attempt
type Observer interface {
	Observe(ctx context.Context, result model.ExecutionResult)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ctx context.Context, result model.ExecutionResult)

// Observe calls f(ctx, result)
func (f ObserverFunc) Observe(ctx context.Context, result model.ExecutionResult) {
	f(ctx, result)
}

// Option configures a Registry
type Option func(*Registry)

// WithObserver sets the observer notified after each execution
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithClock overrides the clock used to stamp lastRunTime
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry owns the set of registered tasks, keyed by name
type Registry struct {
	logger   *zap.Logger
	now      func() time.Time
	observer Observer

	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates a new task registry
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger: logger.Named("registry"),
		now:    time.Now,
		tasks:  make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a task, replacing any task with the same name
func (r *Registry) Register(t *Task) bool {
	if t == nil || t.Name() == "" {
		r.logger.Error("Refusing to register task without a name")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.Name()]; exists {
		r.logger.Warn("Replacing registered task", zap.String("task", t.Name()))
	}
	r.tasks[t.Name()] = t

	r.logger.Info("Registered task", zap.String("task", t.Name()))
	return true
}

// Unregister removes a task
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; !exists {
		return false
	}
	delete(r.tasks, name)

	r.logger.Info("Unregistered task", zap.String("task", name))
	return true
}

// Get returns a task by name
func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	return t, ok
}

// ListNames returns the registered task names in lexical order
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runnable reports whether a task exists and is enabled
func (r *Registry) Runnable(name string) bool {
	t, ok := r.Get(name)
	return ok && t.Enabled()
}

// ExecuteOne runs a task if it exists and is enabled. A disabled task is
// skipped without touching its status.
func (r *Registry) ExecuteOne(ctx context.Context, name string) bool {
	t, ok := r.Get(name)
	if !ok {
		r.logger.Warn("Task not found", zap.String("task", name))
		return false
	}
	if !t.Enabled() {
		r.logger.Info("Skipping disabled task", zap.String("task", name))
		return false
	}

	return r.run(ctx, t).Succeeded()
}

// ExecuteManual runs a task regardless of its enabled flag. It backs manual
// test runs; the scheduler never calls it.
func (r *Registry) ExecuteManual(ctx context.Context, name string) (model.ExecutionResult, bool) {
	t, ok := r.Get(name)
	if !ok {
		r.logger.Warn("Task not found", zap.String("task", name))
		return model.ExecutionResult{}, false
	}

	return r.run(ctx, t), true
}

// ExecuteAll runs every enabled task sequentially. The value for a disabled
// task is nil, distinguishing a skip from a failed run.
func (r *Registry) ExecuteAll(ctx context.Context) map[string]*bool {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.RUnlock()

	results := make(map[string]*bool, len(tasks))
	for _, t := range tasks {
		if !t.Enabled() {
			results[t.Name()] = nil
			continue
		}
		ok := r.run(ctx, t).Succeeded()
		results[t.Name()] = &ok
	}
	return results
}

// Enable enables a task
func (r *Registry) Enable(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Enable()
	r.logger.Info("Enabled task", zap.String("task", name))
	return true
}

// Disable disables a task
func (r *Registry) Disable(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	t.Disable()
	r.logger.Info("Disabled task", zap.String("task", name))
	return true
}

// StatusOf returns the status of a task
func (r *Registry) StatusOf(name string) (model.Status, bool) {
	t, ok := r.Get(name)
	if !ok {
		return model.Status{}, false
	}
	return t.Status(), true
}

// StatusOfAll returns the status of every task
func (r *Registry) StatusOfAll() map[string]model.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]model.Status, len(r.tasks))
	for name, t := range r.tasks {
		statuses[name] = t.Status()
	}
	return statuses
}

func (r *Registry) run(ctx context.Context, t *Task) (result model.ExecutionResult) {
	attemptedAt := r.now()
	t.markRun(attemptedAt)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Recovered panic from task",
				zap.String("task", t.Name()),
				zap.Any("panic", rec))
			result = model.ExecutionResult{
				ID:          uuid.NewString(),
				TaskName:    t.Name(),
				AttemptedAt: attemptedAt,
				Outcome:     model.OutcomeException,
				Detail:      fmt.Sprintf("panic: %v", rec),
			}
			t.setLastError(result)
		}

		r.observe(ctx, result)
	}()

	return t.run(ctx, attemptedAt)
}

func (r *Registry) observe(ctx context.Context, result model.ExecutionResult) {
	if r.observer == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Recovered panic from observer",
				zap.String("task", result.TaskName),
				zap.Any("panic", rec))
		}
	}()

	r.observer.Observe(ctx, result)
}
