package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/pushbot/internal/model"
)

type sink struct {
	mu      sync.Mutex
	err     error
	results []model.ExecutionResult
}

func (s *sink) record(result model.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return s.err
}

func (s *sink) Store(ctx context.Context, result model.ExecutionResult) error {
	return s.record(result)
}

func (s *sink) Publish(ctx context.Context, result model.ExecutionResult) error {
	return s.record(result)
}

func (s *sink) Observe(ctx context.Context, result model.ExecutionResult) {
	_ = s.record(result)
}

func TestRecorder_FansOut(t *testing.T) {
	history, publisher, alerts := &sink{}, &sink{}, &sink{}
	recorder := NewRecorder(zaptest.NewLogger(t),
		WithHistory(history),
		WithPublisher(publisher),
		WithAlerts(alerts))

	result := model.ExecutionResult{ID: "1", TaskName: "weather", Outcome: model.OutcomeSuccess}
	recorder.Observe(context.Background(), result)

	for _, s := range []*sink{history, publisher, alerts} {
		require.Len(t, s.results, 1)
		assert.Equal(t, result, s.results[0])
	}
}

func TestRecorder_SinkFailuresDoNotStopOthers(t *testing.T) {
	history := &sink{err: errors.New("disk full")}
	publisher := &sink{err: errors.New("no responders")}
	alerts := &sink{}
	recorder := NewRecorder(zaptest.NewLogger(t),
		WithHistory(history),
		WithPublisher(publisher),
		WithAlerts(alerts))

	recorder.Observe(context.Background(), model.ExecutionResult{TaskName: "weather", Outcome: model.OutcomeException})

	assert.Len(t, history.results, 1)
	assert.Len(t, publisher.results, 1)
	assert.Len(t, alerts.results, 1)
}

func TestRecorder_WithoutSinks(t *testing.T) {
	recorder := NewRecorder(zaptest.NewLogger(t))

	assert.NotPanics(t, func() {
		recorder.Observe(context.Background(), model.ExecutionResult{TaskName: "weather", Outcome: model.OutcomeNoData})
	})
}

func TestRecorder_Counts(t *testing.T) {
	recorder := NewRecorder(zaptest.NewLogger(t))
	ctx := context.Background()

	recorder.Observe(ctx, model.ExecutionResult{Outcome: model.OutcomeSuccess})
	recorder.Observe(ctx, model.ExecutionResult{Outcome: model.OutcomeSuccess})
	recorder.Observe(ctx, model.ExecutionResult{Outcome: model.OutcomeNoData})

	counts := recorder.Counts()
	assert.Equal(t, int64(2), counts[model.OutcomeSuccess])
	assert.Equal(t, int64(1), counts[model.OutcomeNoData])
	assert.Zero(t, counts[model.OutcomeException])
}
