package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamvault/internal/config"
)

// Server encapsulates the HTTP router and cross-cutting dependencies for the
// payments API, allowing injection during testing.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are executed by GET /health.
	HealthProbes []HealthProbe

	// WebhookRegistrars mount gateway-facing routes under /webhooks.
	// These routes are public; security is signature verification.
	WebhookRegistrars []func(chi.Router)

	// V1RouteRegistrars mount client-facing routes under /v1.
	V1RouteRegistrars []func(chi.Router)

	// Closers are invoked during Shutdown, in registration order
	// (e.g. the pgx pool close).
	Closers []func()

	router *chi.Mux
}

// NewServer initializes the server chassis. The caller mounts routes via
// MountRoutes after registering handlers.
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
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain and all route groups.
//
// Middleware order: Recoverer outermost so every panic is caught, then
// request id generation (logs and alerts need the correlation id), then
// security headers and request logging.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/webhooks", func(r chi.Router) {
		for _, register := range s.WebhookRegistrars {
			register(r)
		}
	})

	s.router.Route("/v1", func(r chi.Router) {
		for _, register := range s.V1RouteRegistrars {
			register(r)
		}
	})
}

// Shutdown performs a graceful termination of server-held resources.
// The context deadline bounds the overall shutdown; individual closers are
// expected to be fast (connection pool drains).
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	done := make(chan struct{})
	go func() {
		for _, closeFn := range s.Closers {
			closeFn()
		}
		close(done)
	}()

	select {
	case <-done:
		s.Logger.Info("server shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown deadline exceeded: %w", ctx.Err())
	}
}
