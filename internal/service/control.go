package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/orchestrator"
)

// Control operations, the last token of the control subject
const (
	OpList     = "list"
	OpStatus   = "status"
	OpEnable   = "enable"
	OpDisable  = "disable"
	OpRun      = "run"
	OpSchedule = "schedule"
)

const (
	controlQueue          = "pushbot-control"
	defaultRequestTimeout = 5 * time.Second
)

// Controller is the set of daemon operations exposed over NATS
type Controller interface {
	ListTasks() []string
	TaskStatus(name string) (model.Status, bool)
	AllStatus() map[string]model.Status
	EnableTask(name string) bool
	DisableTask(name string) bool
	Trigger(name string) error
	Schedule() []model.ScheduleInfo
}

// ControlRequest is the body of a control request
type ControlRequest struct {
	Task string `json:"task,omitempty"`
}

// ControlReply is the body of a control reply
type ControlReply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ControlSubject returns the subject of a control operation
func ControlSubject(prefix, op string) string {
	return fmt.Sprintf("%s.control.%s", prefix, op)
}

// ControlServer answers control requests on behalf of a Controller
type ControlServer struct {
	nc     *nats.Conn
	prefix string
	ctrl   Controller
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewControlServer creates a new control server
func NewControlServer(nc *nats.Conn, prefix string, ctrl Controller, logger *zap.Logger) *ControlServer {
	return &ControlServer{
		nc:     nc,
		prefix: prefix,
		ctrl:   ctrl,
		logger: logger.Named("control"),
	}
}

// Start subscribes to the control subjects
func (s *ControlServer) Start() error {
	sub, err := s.nc.QueueSubscribe(ControlSubject(s.prefix, "*"), controlQueue, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to control subjects: %w", err)
	}
	s.sub = sub

	s.logger.Info("Control server started", zap.String("subject", sub.Subject))
	return nil
}

// Stop unsubscribes from the control subjects
func (s *ControlServer) Stop() error {
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	s.logger.Info("Control server stopped")
	return nil
}

func (s *ControlServer) handle(msg *nats.Msg) {
	op := strings.TrimPrefix(msg.Subject, s.prefix+".control.")

	var req ControlRequest
	var data any
	var err error
	if len(msg.Data) > 0 {
		if jsonErr := json.Unmarshal(msg.Data, &req); jsonErr != nil {
			err = &RemoteError{Code: codeBadRequest, Message: "invalid JSON payload"}
		}
	}
	if err == nil {
		data, err = s.dispatch(op, req)
	}

	reply := ControlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
		var remote *RemoteError
		if errors.As(err, &remote) {
			reply.Code = remote.Code
		} else {
			reply.Code = errorCode(err)
		}
		s.logger.Warn("Control request failed",
			zap.String("op", op),
			zap.String("task", req.Task),
			zap.Error(err))
	} else if data != nil {
		raw, marshalErr := json.Marshal(data)
		if marshalErr != nil {
			reply = ControlReply{Error: "failed to marshal reply", Code: codeInternal}
		} else {
			reply.Data = raw
		}
	}

	body, _ := json.Marshal(reply)
	if err := msg.Respond(body); err != nil {
		s.logger.Error("Failed to respond to control request", zap.String("op", op), zap.Error(err))
	}
}

func (s *ControlServer) dispatch(op string, req ControlRequest) (any, error) {
	switch op {
	case OpList:
		return s.ctrl.ListTasks(), nil
	case OpSchedule:
		return s.ctrl.Schedule(), nil
	case OpStatus:
		if req.Task == "" {
			return s.ctrl.AllStatus(), nil
		}
		return s.status(req.Task)
	case OpEnable, OpDisable:
		if req.Task == "" {
			return nil, &RemoteError{Code: codeBadRequest, Message: "task is required"}
		}
		toggle := s.ctrl.EnableTask
		if op == OpDisable {
			toggle = s.ctrl.DisableTask
		}
		if !toggle(req.Task) {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, req.Task)
		}
		return s.status(req.Task)
	case OpRun:
		if req.Task == "" {
			return nil, &RemoteError{Code: codeBadRequest, Message: "task is required"}
		}
		if err := s.ctrl.Trigger(req.Task); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, &RemoteError{Code: codeBadRequest, Message: fmt.Sprintf("unknown operation %q", op)}
	}
}

func (s *ControlServer) status(name string) (model.Status, error) {
	status, ok := s.ctrl.TaskStatus(name)
	if !ok {
		return model.Status{}, fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, name)
	}
	return status, nil
}

// ControlClient sends control requests to a running daemon
type ControlClient struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

// NewControlClient creates a new control client
func NewControlClient(nc *nats.Conn, prefix string, timeout time.Duration) *ControlClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ControlClient{
		nc:      nc,
		prefix:  prefix,
		timeout: timeout,
	}
}

// List returns the task names known to the daemon
func (c *ControlClient) List(ctx context.Context) ([]string, error) {
	var names []string
	err := c.call(ctx, OpList, "", &names)
	return names, err
}

// Status returns the status of one task
func (c *ControlClient) Status(ctx context.Context, name string) (model.Status, error) {
	var status model.Status
	err := c.call(ctx, OpStatus, name, &status)
	return status, err
}

// AllStatus returns the status of every task
func (c *ControlClient) AllStatus(ctx context.Context) (map[string]model.Status, error) {
	var statuses map[string]model.Status
	err := c.call(ctx, OpStatus, "", &statuses)
	return statuses, err
}

// Enable enables a task on the daemon
func (c *ControlClient) Enable(ctx context.Context, name string) (model.Status, error) {
	var status model.Status
	err := c.call(ctx, OpEnable, name, &status)
	return status, err
}

// Disable disables a task on the daemon
func (c *ControlClient) Disable(ctx context.Context, name string) (model.Status, error) {
	var status model.Status
	err := c.call(ctx, OpDisable, name, &status)
	return status, err
}

// Run dispatches a task on the daemon without waiting for it
func (c *ControlClient) Run(ctx context.Context, name string) error {
	return c.call(ctx, OpRun, name, nil)
}

// Schedule returns the daemon's bindings
func (c *ControlClient) Schedule(ctx context.Context) ([]model.ScheduleInfo, error) {
	var infos []model.ScheduleInfo
	err := c.call(ctx, OpSchedule, "", &infos)
	return infos, err
}

func (c *ControlClient) call(ctx context.Context, op, taskName string, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(ControlRequest{Task: taskName})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := c.nc.RequestWithContext(ctx, ControlSubject(c.prefix, op), body)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
		}
		return fmt.Errorf("failed to send %s request: %w", op, err)
	}

	var reply ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", op, err)
	}
	if !reply.OK {
		return &RemoteError{Code: reply.Code, Message: reply.Error}
	}

	if out != nil && len(reply.Data) > 0 {
		if err := json.Unmarshal(reply.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", op, err)
		}
	}
	return nil
}
