// Package api serves the task status and control operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

// Controller is the set of daemon operations exposed over HTTP
type Controller interface {
	ListTasks() []string
	TaskStatus(name string) (model.Status, bool)
	EnableTask(name string) bool
	DisableTask(name string) bool
	Trigger(name string) error
	Schedule() []model.ScheduleInfo
}

// Server holds the HTTP server state
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	ctrl       Controller
	logger     *zap.Logger
	started    time.Time
}

// NewServer constructs the HTTP API server
func NewServer(addr string, ctrl Controller, logger *zap.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		ctrl:    ctrl,
		logger:  logger.Named("api"),
		started: time.Now(),
	}
	router.Use(s.requestLogger)
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/schedule", s.handleSchedule)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/enable", s.handleEnableTask)
				r.Post("/disable", s.handleDisableTask)
				r.Post("/run", s.handleRunTask)
			})
		})
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
