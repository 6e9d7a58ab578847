package orchestrator

import (
	"errors"

	"github.com/t77yq/pushbot/internal/scheduler"
)

var (
	// ErrInvalidConfig is returned when the configuration fails validation
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTaskNotFound is returned for an unregistered task name
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskRunning is returned when a triggered task still has a run in flight
	ErrTaskRunning = scheduler.ErrTaskRunning

	// ErrTaskNotRunnable is returned when triggering a disabled task
	ErrTaskNotRunnable = scheduler.ErrTaskNotRunnable

	// ErrNotScheduled is returned when triggering a task without a binding
	ErrNotScheduled = scheduler.ErrBindingNotFound
)
