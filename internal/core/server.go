// Package core provides the API chassis for the hydration reminder service:
// a chi router with the cross-cutting middleware chain (panic recovery,
// request IDs, logging, CORS, security headers), the JSON response and
// decoding utilities, and struct validation.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hydromate/internal/config"
)

// Server encapsulates the router and shared dependencies of the HTTP API,
// allowing for easy injection during testing.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	router  *chi.Mux
	closers []func()
}

// NewServer initializes the chassis and installs the base middleware chain.
// The caller is responsible for mounting routes after construction; this
// separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(NewCORSMiddleware([]string{"*"}))
	s.router.Use(RequestLogger(logger))

	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function to run during Shutdown, in
// registration order. Used for the database pool and the cron triggers.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, fn := range s.closers {
		fn()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
