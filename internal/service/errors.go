package service

import (
	"errors"

	"github.com/t77yq/pushbot/internal/orchestrator"
)

// ErrDaemonUnreachable is returned when no daemon answers a control request
var ErrDaemonUnreachable = errors.New("pushbot daemon unreachable")

const (
	codeNotFound     = "not_found"
	codeTaskRunning  = "task_running"
	codeNotRunnable  = "not_runnable"
	codeNotScheduled = "not_scheduled"
	codeBadRequest   = "bad_request"
	codeInternal     = "internal"
)

var codeErrors = map[string]error{
	codeNotFound:     orchestrator.ErrTaskNotFound,
	codeTaskRunning:  orchestrator.ErrTaskRunning,
	codeNotRunnable:  orchestrator.ErrTaskNotRunnable,
	codeNotScheduled: orchestrator.ErrNotScheduled,
}

// RemoteError is a failure reported by the daemon. It unwraps to the
// matching orchestrator error where one exists.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return codeErrors[e.Code]
}

func errorCode(err error) string {
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	return codeInternal
}
