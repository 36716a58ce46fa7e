package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamvault/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(&config.Config{Environment: "local"}, logger)
	require.NoError(t, err)
	return srv
}

func TestNewServer_NilArgs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewServer(nil, logger)
	require.Error(t, err)

	_, err = NewServer(&config.Config{}, nil)
	require.Error(t, err)
}

func TestMountRoutes_RequestIDAndRouting(t *testing.T) {
	srv := newTestServer(t)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRecoverer_PanicBecomes500(t *testing.T) {
	srv := newTestServer(t)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("kaboom")
		})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/boom", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal_unexpected_error")
}

type fakeProbe struct {
	name string
	err  error
}

func (p *fakeProbe) Name() string                  { return p.name }
func (p *fakeProbe) Check(_ context.Context) error { return p.err }

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	srv.MountRoutes()

	t.Run("no probes reports healthy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("failing probe reports 503", func(t *testing.T) {
		srv.HealthProbes = []HealthProbe{
			&fakeProbe{name: "database", err: errors.New("connection refused")},
		}
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "database")
	})
}

func TestShutdown_RunsClosers(t *testing.T) {
	srv := newTestServer(t)

	closed := false
	srv.Closers = append(srv.Closers, func() { closed = true })

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.True(t, closed)
}
