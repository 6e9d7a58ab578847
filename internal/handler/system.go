package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/monitor"
)

// Collector samples host resource usage
type Collector interface {
	Collect(ctx context.Context) (*model.HostStats, error)
}

// SystemSource reports host resource usage
type SystemSource struct {
	collector Collector
	logger    *zap.Logger
}

// NewSystemSource creates a new system source backed by a gopsutil sampler
func NewSystemSource(logger *zap.Logger) *SystemSource {
	return NewSystemSourceWithCollector(monitor.NewSampler("/", logger), logger)
}

// NewSystemSourceWithCollector creates a new system source using collector
func NewSystemSourceWithCollector(collector Collector, logger *zap.Logger) *SystemSource {
	return &SystemSource{
		collector: collector,
		logger:    logger.Named("system"),
	}
}

// Fetch samples the host
func (s *SystemSource) Fetch(ctx context.Context) (any, error) {
	stats, err := s.collector.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect host stats: %w", err)
	}
	return stats, nil
}

// Format renders the host stats as a markdown message
func (s *SystemSource) Format(data any) (string, string, error) {
	stats, ok := data.(*model.HostStats)
	if !ok {
		return "", "", fmt.Errorf("%w: %T", ErrUnexpectedData, data)
	}

	host := stats.Hostname
	if host == "" {
		host = "unknown"
	}
	title := fmt.Sprintf("🖥️ %s 系统状态", host)

	var b strings.Builder
	fmt.Fprintf(&b, "## 🖥️ %s 系统状态\n\n", host)
	fmt.Fprintf(&b, "> 📅 **采集时间：** %s\n\n", stats.CollectedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("---\n\n")
	if stats.Platform != "" {
		fmt.Fprintf(&b, "- **系统：** %s\n", strings.TrimSpace(stats.Platform))
	}
	if stats.Uptime > 0 {
		fmt.Fprintf(&b, "- **运行时长：** %s\n", formatUptime(stats.Uptime))
	}
	fmt.Fprintf(&b, "- **CPU：** %s %.1f%% (%d 核)\n", usageEmoji(stats.CPUUsage), stats.CPUUsage, stats.CPUCount)
	fmt.Fprintf(&b, "- **负载：** %.2f / %.2f / %.2f\n", stats.Load1, stats.Load5, stats.Load15)
	fmt.Fprintf(&b, "- **内存：** %s %s / %s (%.1f%%)\n",
		usageEmoji(stats.MemoryUsage),
		humanize.IBytes(stats.MemoryUsed),
		humanize.IBytes(stats.MemoryTotal),
		stats.MemoryUsage)
	if stats.DiskTotal > 0 {
		fmt.Fprintf(&b, "- **磁盘：** %s %s / %s (%.1f%%)\n",
			usageEmoji(stats.DiskUsage),
			humanize.IBytes(stats.DiskUsed),
			humanize.IBytes(stats.DiskTotal),
			stats.DiskUsage)
	}

	return title, b.String(), nil
}

func usageEmoji(percent float64) string {
	switch {
	case percent >= 90:
		return "🔴"
	case percent >= 70:
		return "🟠"
	default:
		return "🟢"
	}
}

func formatUptime(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	if days > 0 {
		return fmt.Sprintf("%d 天 %d 小时", days, hours)
	}
	return fmt.Sprintf("%d 小时 %d 分钟", hours, minutes)
}
