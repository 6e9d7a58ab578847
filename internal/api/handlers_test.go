package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/orchestrator"
)

type fakeController struct {
	mu       sync.Mutex
	statuses map[string]model.Status
	busy     map[string]bool
	unbound  map[string]bool
}

func newFakeController(names ...string) *fakeController {
	c := &fakeController{
		statuses: make(map[string]model.Status),
		busy:     make(map[string]bool),
		unbound:  make(map[string]bool),
	}
	for _, name := range names {
		c.statuses[name] = model.Status{Name: name, Enabled: true}
	}
	return c
}

func (c *fakeController) ListTasks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.statuses))
	for name := range c.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *fakeController) TaskStatus(name string) (model.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[name]
	return status, ok
}

func (c *fakeController) set(name string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[name]
	if !ok {
		return false
	}
	status.Enabled = enabled
	c.statuses[name] = status
	return true
}

func (c *fakeController) EnableTask(name string) bool  { return c.set(name, true) }
func (c *fakeController) DisableTask(name string) bool { return c.set(name, false) }

func (c *fakeController) Trigger(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[name]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, name)
	case !status.Enabled:
		return fmt.Errorf("%w: %s", orchestrator.ErrTaskNotRunnable, name)
	case c.unbound[name]:
		return fmt.Errorf("%w: %s", orchestrator.ErrNotScheduled, name)
	case c.busy[name]:
		return orchestrator.ErrTaskRunning
	}
	return nil
}

func (c *fakeController) Schedule() []model.ScheduleInfo {
	next := time.Date(2024, 9, 1, 13, 0, 0, 0, time.UTC)
	return []model.ScheduleInfo{{TaskName: "weather", Expression: "0 * * * *", NextFireTime: &next}}
}

func serve(t *testing.T, ctrl Controller, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	server := NewServer(":0", ctrl, zaptest.NewLogger(t))
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	rec := serve(t, newFakeController("a", "b"), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Tasks)
}

func TestListAndGetTasks(t *testing.T) {
	ctrl := newFakeController("weather", "hotsearch-weibo")

	rec := serve(t, ctrl, http.MethodGet, "/v1/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	statuses := decode[[]model.Status](t, rec)
	require.Len(t, statuses, 2)
	assert.Equal(t, "hotsearch-weibo", statuses[0].Name)

	rec = serve(t, ctrl, http.MethodGet, "/v1/tasks/weather")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "weather", decode[model.Status](t, rec).Name)

	rec = serve(t, ctrl, http.MethodGet, "/v1/tasks/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "task not found", decode[map[string]string](t, rec)["error"])
}

func TestEnableDisable(t *testing.T) {
	ctrl := newFakeController("weather")

	rec := serve(t, ctrl, http.MethodPost, "/v1/tasks/weather/disable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Status](t, rec).Enabled)

	rec = serve(t, ctrl, http.MethodPost, "/v1/tasks/weather/enable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Status](t, rec).Enabled)

	rec = serve(t, ctrl, http.MethodPost, "/v1/tasks/missing/enable")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, ctrl, http.MethodGet, "/v1/tasks/weather/enable")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunTask(t *testing.T) {
	ctrl := newFakeController("weather", "busy", "off", "unbound")
	ctrl.busy["busy"] = true
	ctrl.unbound["unbound"] = true
	ctrl.DisableTask("off")

	tests := []struct {
		name string
		task string
		code int
	}{
		{"dispatched", "weather", http.StatusAccepted},
		{"already running", "busy", http.StatusConflict},
		{"disabled", "off", http.StatusConflict},
		{"not scheduled", "unbound", http.StatusConflict},
		{"unknown", "missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, ctrl, http.MethodPost, "/v1/tasks/"+tt.task+"/run")
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	rec := serve(t, ctrl, http.MethodPost, "/v1/tasks/busy/run")
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "already running")
}

func TestSchedule(t *testing.T) {
	rec := serve(t, newFakeController("weather"), http.MethodGet, "/v1/schedule")

	require.Equal(t, http.StatusOK, rec.Code)
	infos := decode[[]model.ScheduleInfo](t, rec)
	require.Len(t, infos, 1)
	assert.Equal(t, "weather", infos[0].TaskName)
}
