package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/orchestrator"
)

type healthResponse struct {
	Status string `json:"status"`
	Tasks  int    `json:"tasks"`
	Uptime string `json:"uptime"`
}

type runResponse struct {
	Task   string `json:"task"`
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Tasks:  len(s.ctrl.ListTasks()),
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	names := s.ctrl.ListTasks()
	res := make([]model.Status, 0, len(names))
	for _, name := range names {
		if status, ok := s.ctrl.TaskStatus(name); ok {
			res = append(res, status)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := s.ctrl.TaskStatus(name)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleEnableTask(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.ctrl.EnableTask)
}

func (s *Server) handleDisableTask(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.ctrl.DisableTask)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, apply func(string) bool) {
	name := chi.URLParam(r, "name")
	if !apply(name) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	status, _ := s.ctrl.TaskStatus(name)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.ctrl.Trigger(name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, runResponse{Task: name, Status: "dispatched"})
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, orchestrator.ErrTaskRunning),
		errors.Is(err, orchestrator.ErrTaskNotRunnable),
		errors.Is(err, orchestrator.ErrNotScheduled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("Failed to trigger task", zap.String("task", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger task")
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Schedule())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
