package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSampler_Collect(t *testing.T) {
	sampler := NewSampler("", zaptest.NewLogger(t))
	sampler.cpuInterval = 100 * time.Millisecond

	stats, err := sampler.Collect(context.Background())
	require.NoError(t, err)

	assert.Greater(t, stats.MemoryTotal, uint64(0))
	assert.GreaterOrEqual(t, stats.CPUUsage, 0.0)
	assert.LessOrEqual(t, stats.MemoryUsage, 100.0)
	assert.False(t, stats.CollectedAt.IsZero())
}

func TestSampler_CollectHonoursContext(t *testing.T) {
	sampler := NewSampler("/", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sampler.Collect(ctx)
	assert.Error(t, err)
}
