package model

import (
	"time"
)

// Outcome represents the categorical result of one task execution
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeNoData              Outcome = "no_data"
	OutcomeFormatOrSendFailure Outcome = "format_or_send_failure"
	OutcomeException           Outcome = "exception"
)

// Status is a point-in-time view of a registered task
type Status struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// ExecutionResult represents the result of a single execution attempt
type ExecutionResult struct {
	ID          string        `json:"id"`
	TaskName    string        `json:"task_name"`
	AttemptedAt time.Time     `json:"attempted_at"`
	Duration    time.Duration `json:"duration"`
	Outcome     Outcome       `json:"outcome"`
	Detail      string        `json:"detail,omitempty"`
}

// Succeeded reports whether the execution fully succeeded
func (r ExecutionResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
