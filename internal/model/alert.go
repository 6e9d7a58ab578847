package model

import "time"

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeTaskFailure  AlertType = "task_failure"
	AlertTypeTaskRecovery AlertType = "task_recovery"
)

// Alert represents an alert event raised for a task
type Alert struct {
	Type      AlertType `json:"type"`
	TaskName  string    `json:"task_name"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
