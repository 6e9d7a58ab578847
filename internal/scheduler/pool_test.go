package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, zaptest.NewLogger(t))
	release := make(chan struct{})

	var running, maxRunning, completed atomic.Int32
	job := func() {
		n := running.Add(1)
		for {
			max := maxRunning.Load()
			if n <= max || maxRunning.CompareAndSwap(max, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		completed.Add(1)
	}

	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, p.Submit(name, job))
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, p.InFlight(), 4, "queued jobs hold their slot")

	close(release)
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, int32(4), completed.Load())
	assert.Equal(t, int32(2), maxRunning.Load())
	assert.Empty(t, p.InFlight())
}

func TestPoolRejectsDuplicateName(t *testing.T) {
	p := NewPool(4, zaptest.NewLogger(t))
	release := make(chan struct{})

	require.NoError(t, p.Submit("a", func() { <-release }))
	assert.ErrorIs(t, p.Submit("a", func() {}), ErrTaskRunning)

	_, ok := p.RunningSince("a")
	assert.True(t, ok)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := p.RunningSince("a")
		return !ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Submit("a", func() {}), "slot is released after completion")
	require.NoError(t, p.Wait(context.Background()))
}

func TestPoolReleasesSlotAfterPanic(t *testing.T) {
	p := NewPool(1, zaptest.NewLogger(t))

	require.NoError(t, p.Submit("a", func() { panic("boom") }))
	require.Eventually(t, func() bool { return len(p.InFlight()) == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Submit("a", func() {}))
	require.NoError(t, p.Wait(context.Background()))
}

func TestPoolClosedAfterWait(t *testing.T) {
	p := NewPool(1, zaptest.NewLogger(t))
	require.NoError(t, p.Wait(context.Background()))
	assert.ErrorIs(t, p.Submit("a", func() {}), ErrPoolClosed)
}
