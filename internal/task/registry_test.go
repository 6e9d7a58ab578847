package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/pushbot/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRegistryRegister(t *testing.T) {
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger)

	first := New("weather", &fakeSource{}, &fakeNotifier{}, logger)
	second := New("weather", &fakeSource{}, &fakeNotifier{}, logger)

	require.True(t, r.Register(first))
	require.True(t, r.Register(second))

	assert.Equal(t, []string{"weather"}, r.ListNames())
	got, ok := r.Get("weather")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.False(t, r.Register(New("", &fakeSource{}, &fakeNotifier{}, logger)))
	assert.False(t, r.Register(nil))
}

func TestRegistryUnregister(t *testing.T) {
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger)
	r.Register(New("weather", &fakeSource{}, &fakeNotifier{}, logger))

	assert.True(t, r.Unregister("weather"))
	assert.False(t, r.Unregister("weather"))

	_, ok := r.Get("weather")
	assert.False(t, ok)
	assert.Empty(t, r.ListNames())
}

func TestRegistryExecuteOne(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unknown task", func(t *testing.T) {
		r := NewRegistry(logger)
		assert.False(t, r.ExecuteOne(ctx, "missing"))
	})

	t.Run("records last run time even when the run fails", func(t *testing.T) {
		r := NewRegistry(logger, WithClock(fixedClock(now)))
		r.Register(New("weather", &fakeSource{fetchErr: errors.New("down")}, &fakeNotifier{}, logger))

		assert.False(t, r.ExecuteOne(ctx, "weather"))

		status, ok := r.StatusOf("weather")
		require.True(t, ok)
		require.NotNil(t, status.LastRunTime)
		assert.Equal(t, now, *status.LastRunTime)
		assert.Contains(t, status.LastError, "down")
	})

	t.Run("disabled task is skipped without touching status", func(t *testing.T) {
		clock := now
		r := NewRegistry(logger, WithClock(func() time.Time { return clock }))
		source := &fakeSource{fetchErr: errors.New("down")}
		r.Register(New("weather", source, &fakeNotifier{}, logger))

		require.False(t, r.ExecuteOne(ctx, "weather"))
		before, _ := r.StatusOf("weather")

		require.True(t, r.Disable("weather"))
		clock = now.Add(time.Hour)
		assert.False(t, r.ExecuteOne(ctx, "weather"))

		after, _ := r.StatusOf("weather")
		assert.Equal(t, before.LastRunTime, after.LastRunTime)
		assert.Equal(t, before.LastError, after.LastError)
		assert.Equal(t, int32(1), source.fetches.Load())
	})

	t.Run("success", func(t *testing.T) {
		r := NewRegistry(logger)
		r.Register(New("weather", &fakeSource{data: "sunny"}, &fakeNotifier{}, logger))
		assert.True(t, r.ExecuteOne(ctx, "weather"))
	})
}

func TestRegistryExecuteManualBypassesEnabled(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger)
	notifier := &fakeNotifier{}
	r.Register(New("weather", &fakeSource{data: "sunny"}, notifier, logger))
	r.Disable("weather")

	result, found := r.ExecuteManual(ctx, "weather")
	require.True(t, found)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, notifier.count())

	_, found = r.ExecuteManual(ctx, "missing")
	assert.False(t, found)
}

func TestRegistryExecuteAll(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger)

	r.Register(New("A", &fakeSource{data: "ok"}, &fakeNotifier{}, logger))
	r.Register(New("B", &fakeSource{data: "ok"}, &fakeNotifier{}, logger))
	r.Register(New("C", &fakeSource{}, &fakeNotifier{}, logger))
	r.Disable("B")

	results := r.ExecuteAll(ctx)
	require.Len(t, results, 3)

	require.NotNil(t, results["A"])
	assert.True(t, *results["A"])
	assert.Nil(t, results["B"], "disabled task is skipped")
	require.NotNil(t, results["C"])
	assert.False(t, *results["C"])
}

func TestRegistryEnableDisableUnknown(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	assert.False(t, r.Enable("missing"))
	assert.False(t, r.Disable("missing"))
	assert.False(t, r.Runnable("missing"))

	_, ok := r.StatusOf("missing")
	assert.False(t, ok)
}

func TestRegistryStatusOfAll(t *testing.T) {
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger)
	r.Register(New("A", &fakeSource{}, &fakeNotifier{}, logger))
	r.Register(New("B", &fakeSource{}, &fakeNotifier{}, logger))
	r.Disable("B")

	statuses := r.StatusOfAll()
	require.Len(t, statuses, 2)
	assert.True(t, statuses["A"].Enabled)
	assert.False(t, statuses["B"].Enabled)
	assert.True(t, r.Runnable("A"))
	assert.False(t, r.Runnable("B"))
}

func TestRegistryObserver(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	var mu sync.Mutex
	var observed []model.ExecutionResult
	r := NewRegistry(logger, WithObserver(ObserverFunc(func(ctx context.Context, result model.ExecutionResult) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, result)
	})))

	r.Register(New("A", &fakeSource{data: "ok"}, &fakeNotifier{}, logger))
	r.Register(New("B", &fakeSource{}, &fakeNotifier{}, logger))
	r.Register(New("C", &fakeSource{data: "ok"}, &fakeNotifier{}, logger))
	r.Disable("C")

	r.ExecuteOne(ctx, "A")
	r.ExecuteOne(ctx, "B")
	r.ExecuteOne(ctx, "C")

	require.Len(t, observed, 2)
	assert.Equal(t, "A", observed[0].TaskName)
	assert.Equal(t, model.OutcomeSuccess, observed[0].Outcome)
	assert.Equal(t, "B", observed[1].TaskName)
	assert.Equal(t, model.OutcomeNoData, observed[1].Outcome)
}

func TestRegistryObserverPanicIsContained(t *testing.T) {
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger, WithObserver(ObserverFunc(func(ctx context.Context, result model.ExecutionResult) {
		panic("sink down")
	})))
	r.Register(New("A", &fakeSource{data: "ok"}, &fakeNotifier{}, logger))

	assert.NotPanics(t, func() {
		assert.True(t, r.ExecuteOne(context.Background(), "A"))
	})
}

func TestRegistryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	r := NewRegistry(logger)
	r.Register(New("A", &fakeSource{data: "ok"}, &fakeNotifier{}, logger))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(4)
		go func() {
			defer wg.Done()
			r.ExecuteOne(ctx, "A")
		}()
		go func() {
			defer wg.Done()
			r.Disable("A")
			r.Enable("A")
		}()
		go func() {
			defer wg.Done()
			r.StatusOfAll()
		}()
		go func() {
			defer wg.Done()
			r.Register(New("B", &fakeSource{data: "ok"}, &fakeNotifier{}, logger))
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"A", "B"}, r.ListNames())
}
