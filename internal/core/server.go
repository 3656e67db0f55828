// Package core provides the HTTP chassis for the evalmap service. It builds a
// chi router that serves both as a plain HTTP server and behind API Gateway
// through the Lambda adapter, and applies the cross-cutting middleware
// (recovery, request ids, logging, CORS, metrics) before requests reach the
// domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"evalmap/internal/config"
)

// MetricsCollector records per-request telemetry. route is the chi route
// pattern, not the raw path, so label cardinality stays bounded.
type MetricsCollector interface {
	RecordRequest(route, method string, status int, duration time.Duration)
}

// ShutdownHook releases a resource owned by something the server wires, such
// as the panel registry or a cache connection.
type ShutdownHook func(ctx context.Context) error

// Server holds the dependencies of the API. Fields are exported so the
// entrypoint and tests can inject them before MountRoutes is called.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	// HealthProbes are run by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. Populated by main to
	// keep core free of handler imports.
	V1RouteRegistrars []func(chi.Router)

	mu            sync.Mutex
	shutdownHooks []ShutdownHook
	router        *chi.Mux
}

// NewServer prepares a server with an empty router. The caller mounts routes
// with MountRoutes after injecting optional dependencies.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook run by Shutdown. Hooks run in reverse
// registration order.
func (s *Server) OnShutdown(hook ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Shutdown runs every registered hook, even when an earlier one fails, and
// returns the joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	s.mu.Lock()
	hooks := s.shutdownHooks
	s.shutdownHooks = nil
	s.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutting down: %w", errors.Join(errs...))
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
