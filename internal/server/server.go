// Package server exposes the orchestrator over HTTP: a small JSON API
// for task lifecycle operations and a WebSocket endpoint streaming task
// events. Every JSON response uses the same envelope shape, so clients
// need exactly one decoder.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quantaalpha/triald/internal/logging"
	"github.com/quantaalpha/triald/internal/orchestrator"
)

// Server is the triald HTTP surface.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *logging.Logger
	http   *http.Server
}

// New creates a Server listening on addr.
func New(addr string, orch *orchestrator.Orchestrator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		orch:   orch,
		logger: logger,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route tree. Exposed separately so tests can drive
// the handlers through httptest without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/v1/mining", func(r chi.Router) {
		r.Post("/start", s.handleMiningStart)
		r.Get("/tasks/list", s.handleMiningList)
		r.Get("/{taskID}", s.handleMiningGet)
		r.Delete("/{taskID}", s.handleMiningCancel)
	})

	r.Route("/api/v1/backtest", func(r chi.Router) {
		r.Post("/start", s.handleBacktestStart)
		r.Get("/{taskID}", s.handleBacktestGet)
		r.Delete("/{taskID}", s.handleBacktestCancel)
	})

	r.Get("/ws/tasks/{taskID}", s.handleTaskEvents)

	return r
}

// ListenAndServe runs the server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
