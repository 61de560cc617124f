// Package server assembles the HTTP API: router, middleware chain, health
// and version endpoints, and the job/rescan API when one is configured.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/golumen/internal/errors"
	"github.com/3leaps/golumen/internal/observability"
	"github.com/3leaps/golumen/internal/server/handlers"
	"github.com/3leaps/golumen/internal/server/middleware"
)

// Timeouts bounds the listener. Zero values fall back to the defaults.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Server is the API server. Build one with New, then Run it.
type Server struct {
	host     string
	port     int
	timeouts Timeouts
	api      *handlers.API
	pprof    bool
	router   chi.Router
}

// Option configures a Server before its routes are built.
type Option func(*Server)

// WithAPI mounts the job endpoints under /api.
func WithAPI(api *handlers.API) Option {
	return func(s *Server) { s.api = api }
}

// WithTimeouts overrides the listener timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// WithPprof mounts the pprof profiler under /debug.
func WithPprof() Option {
	return func(s *Server) { s.pprof = true }
}

// New builds a server listening on host:port. Port 0 lets the OS pick.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host: host,
		port: port,
		timeouts: Timeouts{
			Read:     defaultReadTimeout,
			Write:    defaultWriteTimeout,
			Idle:     defaultIdleTimeout,
			Shutdown: defaultShutdownTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, req, http.StatusNotFound, apperrors.CodeNotFound,
			fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, req, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed for %s", req.Method, req.URL.Path), nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.api != nil {
		r.Route("/api", s.api.Routes)
	}
	if s.pprof {
		r.Mount("/debug", chimiddleware.Profiler())
	}

	return r
}

// Run serves until ctx is cancelled, then drains connections within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.CLILogger.Info("Server listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()

	observability.CLILogger.Info("Shutting down server",
		zap.Duration("timeout", s.timeouts.Shutdown))
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
