package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

// Sampler collects host resource usage
type Sampler struct {
	logger      *zap.Logger
	diskPath    string
	cpuInterval time.Duration
}

// NewSampler creates a new sampler reporting disk usage for diskPath
func NewSampler(diskPath string, logger *zap.Logger) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{
		logger:      logger.Named("sampler"),
		diskPath:    diskPath,
		cpuInterval: time.Second,
	}
}

// Collect samples CPU, memory, disk, load and host information. CPU and
// memory are required; the rest are best effort.
func (s *Sampler) Collect(ctx context.Context) (*model.HostStats, error) {
	stats := &model.HostStats{CollectedAt: time.Now()}

	cpuPercent, err := cpu.PercentWithContext(ctx, s.cpuInterval, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}
	stats.MemoryTotal = memInfo.Total
	stats.MemoryUsed = memInfo.Used
	stats.MemoryUsage = memInfo.UsedPercent

	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.CPUCount = count
	} else {
		s.logger.Warn("Failed to get CPU count", zap.Error(err))
	}

	if usage, err := disk.UsageWithContext(ctx, s.diskPath); err == nil {
		stats.DiskTotal = usage.Total
		stats.DiskUsed = usage.Used
		stats.DiskUsage = usage.UsedPercent
	} else {
		s.logger.Warn("Failed to get disk usage", zap.String("path", s.diskPath), zap.Error(err))
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1, stats.Load5, stats.Load15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		s.logger.Warn("Failed to get load average", zap.Error(err))
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		stats.Hostname = info.Hostname
		stats.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		stats.Uptime = time.Duration(info.Uptime) * time.Second
	} else {
		s.logger.Warn("Failed to get host info", zap.Error(err))
	}

	s.logger.Debug("Host stats collected",
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage),
		zap.Float64("disk_usage", stats.DiskUsage))

	return stats, nil
}
