// Package task defines the fetch, format and send lifecycle shared by every
// task kind, and the registry that owns registered tasks.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

// Source produces the data for one kind of task and renders it as a message.
//
// Fetch returns ErrNoData (possibly wrapped), or a nil payload with a nil
// error, when the source has nothing to report. Any other error is treated as
// an unexpected failure.
type Source interface {
	Fetch(ctx context.Context) (any, error)
	Format(data any) (title, body string, err error)
}

// Notifier delivers a formatted message to the outbound channel
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Task is a named unit of work with mutable run status
type Task struct {
	name     string
	source   Source
	notifier Notifier
	logger   *zap.Logger

	mu          sync.RWMutex
	enabled     bool
	lastRunTime time.Time
	lastError   string
}

// New creates a new enabled task
func New(name string, source Source, notifier Notifier, logger *zap.Logger) *Task {
	return &Task{
		name:     name,
		source:   source,
		notifier: notifier,
		logger:   logger.Named("task").With(zap.String("task", name)),
		enabled:  true,
	}
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Enable enables the task
func (t *Task) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

// Disable disables the task
func (t *Task) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Enabled reports whether the task is enabled
func (t *Task) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Status returns a snapshot of the task status
func (t *Task) Status() model.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := model.Status{
		Name:      t.name,
		Enabled:   t.enabled,
		LastError: t.lastError,
	}
	if !t.lastRunTime.IsZero() {
		lastRun := t.lastRunTime
		status.LastRunTime = &lastRun
	}
	return status
}

// FetchData retrieves the source data
func (t *Task) FetchData(ctx context.Context) (any, error) {
	return t.source.Fetch(ctx)
}

// FormatMessage renders fetched data into a title and body
func (t *Task) FormatMessage(data any) (string, string, error) {
	return t.source.Format(data)
}

// SendMessage delivers a message and reports whether the channel accepted it.
// Errors and panics raised by the notifier are converted to false.
func (t *Task) SendMessage(ctx context.Context, title, body string) bool {
	return t.send(ctx, title, body) == nil
}

// Execute runs the fetch, format and send pipeline and reports success
func (t *Task) Execute(ctx context.Context) bool {
	return t.Run(ctx).Succeeded()
}

// Run runs the pipeline and returns the categorised result. It never panics.
//
// lastError is cleared on success and set to the failure detail otherwise,
// including the NoData outcome, so a status query always explains the most
// recent unsuccessful run.
func (t *Task) Run(ctx context.Context) model.ExecutionResult {
	return t.run(ctx, time.Now())
}

func (t *Task) run(ctx context.Context, attemptedAt time.Time) (result model.ExecutionResult) {
	start := time.Now()
	result = model.ExecutionResult{
		ID:          uuid.NewString(),
		TaskName:    t.name,
		AttemptedAt: attemptedAt,
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Task execution panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			result.Outcome = model.OutcomeException
			result.Detail = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = time.Since(start)
		t.setLastError(result)
	}()

	result.Outcome, result.Detail = t.pipeline(ctx)

	if result.Outcome == model.OutcomeSuccess {
		t.logger.Info("Task executed", zap.Duration("duration", time.Since(start)))
	}
	return result
}

func (t *Task) pipeline(ctx context.Context) (model.Outcome, string) {
	data, err := t.FetchData(ctx)
	switch {
	case errors.Is(err, ErrNoData):
		t.logger.Warn("No data fetched", zap.Error(err))
		return model.OutcomeNoData, err.Error()
	case err != nil:
		t.logger.Error("Failed to fetch data", zap.Error(err))
		return model.OutcomeException, fmt.Sprintf("failed to fetch data: %v", err)
	case data == nil:
		t.logger.Warn("No data fetched")
		return model.OutcomeNoData, ErrNoData.Error()
	}

	title, body, err := t.FormatMessage(data)
	if err != nil {
		t.logger.Error("Failed to format message", zap.Error(err))
		return model.OutcomeFormatOrSendFailure, fmt.Sprintf("failed to format message: %v", err)
	}

	if err := t.send(ctx, title, body); err != nil {
		return model.OutcomeFormatOrSendFailure, fmt.Sprintf("message send failed: %v", err)
	}

	return model.OutcomeSuccess, ""
}

func (t *Task) send(ctx context.Context, title, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
			t.logger.Error("Notifier panicked", zap.Any("panic", r))
		}
	}()

	if err := t.notifier.Send(ctx, title, body); err != nil {
		t.logger.Error("Failed to send message", zap.Error(err))
		return err
	}
	return nil
}

func (t *Task) markRun(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRunTime = at
}

func (t *Task) setLastError(result model.ExecutionResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if result.Succeeded() {
		t.lastError = ""
		return
	}
	t.lastError = result.Detail
}
