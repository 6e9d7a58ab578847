package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a running scheduler
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrStopped is returned when a stopped scheduler is used again
	ErrStopped = errors.New("scheduler stopped")

	// ErrBindingNotFound is returned when no binding exists for a task
	ErrBindingNotFound = errors.New("binding not found")

	// ErrTaskNotRunnable is returned when a task is unknown or disabled
	ErrTaskNotRunnable = errors.New("task not runnable")

	// ErrTaskRunning is returned when a task already has an execution in flight
	ErrTaskRunning = errors.New("task already running")

	// ErrPoolClosed is returned when submitting to a drained pool
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrScanFailed is returned when the trigger loop gives up after repeated scan failures
	ErrScanFailed = errors.New("trigger scan failed")
)
