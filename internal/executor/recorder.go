// Package executor records the results of task executions: it stores them,
// publishes them on the event bus and feeds the failure alerts.
package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

// HistoryStore persists execution results
type HistoryStore interface {
	Store(ctx context.Context, result model.ExecutionResult) error
}

// ResultPublisher publishes execution results
type ResultPublisher interface {
	Publish(ctx context.Context, result model.ExecutionResult) error
}

// AlertObserver watches execution results for failures
type AlertObserver interface {
	Observe(ctx context.Context, result model.ExecutionResult)
}

// Option configures a Recorder
type Option func(*Recorder)

// WithHistory stores every result in history
func WithHistory(history HistoryStore) Option {
	return func(r *Recorder) {
		r.history = history
	}
}

// WithPublisher publishes every result through publisher
func WithPublisher(publisher ResultPublisher) Option {
	return func(r *Recorder) {
		r.publisher = publisher
	}
}

// WithAlerts feeds every result to alerts
func WithAlerts(alerts AlertObserver) Option {
	return func(r *Recorder) {
		r.alerts = alerts
	}
}

// Recorder fans execution results out to the configured sinks. Sink failures
// are logged and never change the outcome of the execution.
type Recorder struct {
	logger    *zap.Logger
	history   HistoryStore
	publisher ResultPublisher
	alerts    AlertObserver

	mu     sync.Mutex
	counts map[model.Outcome]int64
}

// NewRecorder creates a new recorder
func NewRecorder(logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		logger: logger.Named("recorder"),
		counts: make(map[model.Outcome]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe implements task.Observer
func (r *Recorder) Observe(ctx context.Context, result model.ExecutionResult) {
	r.mu.Lock()
	r.counts[result.Outcome]++
	r.mu.Unlock()

	r.logger.Debug("Recording execution result",
		zap.String("id", result.ID),
		zap.String("task", result.TaskName),
		zap.String("outcome", string(result.Outcome)),
		zap.Duration("duration", result.Duration))

	if r.history != nil {
		if err := r.history.Store(ctx, result); err != nil {
			r.logger.Error("Failed to store execution result",
				zap.String("task", result.TaskName),
				zap.Error(err))
		}
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, result); err != nil {
			r.logger.Error("Failed to publish execution result",
				zap.String("task", result.TaskName),
				zap.Error(err))
		}
	}

	if r.alerts != nil {
		r.alerts.Observe(ctx, result)
	}
}

// Counts returns the number of recorded results per outcome
func (r *Recorder) Counts() map[model.Outcome]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[model.Outcome]int64, len(r.counts))
	for outcome, n := range r.counts {
		counts[outcome] = n
	}
	return counts
}
