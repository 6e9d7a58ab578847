// Package monitor samples host resources and raises alerts for tasks that
// keep failing.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

// Notifier delivers alert messages
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// AlertManager counts consecutive failures per task and notifies once a task
// reaches the threshold, and again when it recovers.
type AlertManager struct {
	logger    *zap.Logger
	notifier  Notifier
	threshold int
	now       func() time.Time

	mu       sync.Mutex
	failures map[string]int
	alerted  map[string]bool
}

// NewAlertManager creates a new alert manager
func NewAlertManager(notifier Notifier, threshold int, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		logger:    logger.Named("alert-manager"),
		notifier:  notifier,
		threshold: threshold,
		now:       time.Now,
		failures:  make(map[string]int),
		alerted:   make(map[string]bool),
	}
}

// Observe records an execution result and sends an alert when due
func (m *AlertManager) Observe(ctx context.Context, result model.ExecutionResult) {
	alert := m.evaluate(result)
	if alert == nil {
		return
	}

	title, body := formatAlert(alert)
	if err := m.notifier.Send(ctx, title, body); err != nil {
		m.logger.Error("Failed to send alert",
			zap.String("task", alert.TaskName),
			zap.String("type", string(alert.Type)),
			zap.Error(err))
		return
	}

	m.logger.Info("Alert sent",
		zap.String("task", alert.TaskName),
		zap.String("type", string(alert.Type)),
		zap.Int("failures", alert.Failures))
}

// Failures returns the current consecutive failure count of a task
func (m *AlertManager) Failures(taskName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[taskName]
}

func (m *AlertManager) evaluate(result model.ExecutionResult) *model.Alert {
	if m.threshold <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := result.TaskName
	if result.Succeeded() {
		failures := m.failures[name]
		wasAlerted := m.alerted[name]
		delete(m.failures, name)
		delete(m.alerted, name)
		if !wasAlerted {
			return nil
		}
		return &model.Alert{
			Type:      model.AlertTypeTaskRecovery,
			TaskName:  name,
			Failures:  failures,
			CreatedAt: m.now(),
		}
	}

	m.failures[name]++
	if m.failures[name] != m.threshold || m.alerted[name] {
		return nil
	}
	m.alerted[name] = true

	return &model.Alert{
		Type:      model.AlertTypeTaskFailure,
		TaskName:  name,
		Failures:  m.failures[name],
		LastError: result.Detail,
		CreatedAt: m.now(),
	}
}

func formatAlert(alert *model.Alert) (string, string) {
	var b strings.Builder
	var title string

	switch alert.Type {
	case model.AlertTypeTaskRecovery:
		title = fmt.Sprintf("✅ 任务恢复: %s", alert.TaskName)
		fmt.Fprintf(&b, "## ✅ 任务已恢复\n\n")
		fmt.Fprintf(&b, "- **任务：** %s\n", alert.TaskName)
		fmt.Fprintf(&b, "- **此前连续失败：** %d 次\n", alert.Failures)
	default:
		title = fmt.Sprintf("⚠️ 任务告警: %s", alert.TaskName)
		fmt.Fprintf(&b, "## ⚠️ 任务连续失败\n\n")
		fmt.Fprintf(&b, "- **任务：** %s\n", alert.TaskName)
		fmt.Fprintf(&b, "- **连续失败：** %d 次\n", alert.Failures)
		if alert.LastError != "" {
			fmt.Fprintf(&b, "- **最近错误：** %s\n", alert.LastError)
		}
	}
	fmt.Fprintf(&b, "- **时间：** %s\n", alert.CreatedAt.Format("2006-01-02 15:04:05"))

	return title, b.String()
}
