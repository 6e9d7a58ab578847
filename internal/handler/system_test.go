package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/pushbot/internal/model"
)

type stubCollector struct {
	stats *model.HostStats
	err   error
}

func (c *stubCollector) Collect(ctx context.Context) (*model.HostStats, error) {
	return c.stats, c.err
}

func TestSystemSource_FetchAndFormat(t *testing.T) {
	stats := &model.HostStats{
		Hostname:    "node-1",
		Platform:    "ubuntu 22.04",
		Uptime:      50 * time.Hour,
		CPUUsage:    12.5,
		CPUCount:    4,
		Load1:       0.5,
		Load5:       0.25,
		Load15:      0.1,
		MemoryTotal: 8 << 30,
		MemoryUsed:  6 << 30,
		MemoryUsage: 75,
		DiskTotal:   100 << 30,
		DiskUsed:    95 << 30,
		DiskUsage:   95,
		CollectedAt: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	source := NewSystemSourceWithCollector(&stubCollector{stats: stats}, zaptest.NewLogger(t))

	data, err := source.Fetch(context.Background())
	require.NoError(t, err)

	title, body, err := source.Format(data)
	require.NoError(t, err)

	assert.Equal(t, "🖥️ node-1 系统状态", title)
	assert.Contains(t, body, "ubuntu 22.04")
	assert.Contains(t, body, "2 天 2 小时")
	assert.Contains(t, body, "🟢 12.5% (4 核)")
	assert.Contains(t, body, "0.50 / 0.25 / 0.10")
	assert.Contains(t, body, "🟠 6.0 GiB / 8.0 GiB (75.0%)")
	assert.Contains(t, body, "🔴 95 GiB / 100 GiB (95.0%)")
}

func TestSystemSource_FetchError(t *testing.T) {
	source := NewSystemSourceWithCollector(&stubCollector{err: errors.New("no procfs")}, zaptest.NewLogger(t))

	_, err := source.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no procfs")
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0 小时 45 分钟", formatUptime(45*time.Minute))
	assert.Equal(t, "3 小时 5 分钟", formatUptime(3*time.Hour+5*time.Minute))
	assert.Equal(t, "1 天 0 小时", formatUptime(24*time.Hour))
}
