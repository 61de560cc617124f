// Package handlers implements the HTTP endpoints served by internal/server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/3leaps/golumen/internal/errors"
)

// Health probe states for a single check and for the aggregate.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
)

// defaultCheckTimeout bounds each health checker call.
const defaultCheckTimeout = 2 * time.Second

// HealthChecker probes one dependency (library database, analysis
// provider, ...). A nil error means healthy.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthResponse is the 200 body of health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Time    time.Time         `json:"time"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthManager aggregates registered checkers into the health endpoints.
type HealthManager struct {
	mu           sync.RWMutex
	version      string
	checkers     map[string]HealthChecker
	checkTimeout time.Duration
	started      time.Time
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:      version,
		checkers:     make(map[string]HealthChecker),
		checkTimeout: defaultCheckTimeout,
		started:      time.Now(),
	}
}

// RegisterChecker adds or replaces a named dependency probe.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	timeout := m.checkTimeout
	m.mu.RUnlock()

	// Probes run concurrently so one slow dependency does not delay the
	// rest; each is bounded by its own timeout.
	var resultsMu sync.Mutex
	results := make(map[string]string, len(checkers))

	g, gctx := errgroup.WithContext(ctx)
	for name, checker := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, timeout)
			err := checker.CheckHealth(checkCtx)
			cancel()

			status := statusHealthy
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded):
				status = statusTimeout
			default:
				status = statusUnhealthy
			}

			resultsMu.Lock()
			results[name] = status
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// determineOverallStatus folds per-check results into one aggregate. Any
// unhealthy check makes the whole service unhealthy; a timeout alone only
// degrades it.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := statusHealthy
	for _, status := range checks {
		switch status {
		case statusUnhealthy:
			return statusUnhealthy
		case statusTimeout:
			overall = statusDegraded
		}
	}
	return overall
}

// HealthHandler serves GET /health: 200 with the aggregate, or 503 with
// the error envelope when any dependency is unhealthy.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	overall := m.determineOverallStatus(checks)

	if overall == statusUnhealthy {
		details := map[string]interface{}{
			"status": overall,
			"checks": checks,
		}
		apperrors.WriteError(w, r, http.StatusServiceUnavailable,
			apperrors.CodeServiceUnavailable, "one or more health checks failed", details)
		return
	}

	writeHealthJSON(w, HealthResponse{
		Status:  overall,
		Version: m.version,
		Time:    time.Now().UTC(),
		Checks:  checks,
	})
}

// LivenessHandler serves GET /health/live. It only proves the process is
// responsive; dependencies are not probed.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, HealthResponse{
		Status:  statusHealthy,
		Version: m.version,
		Time:    time.Now().UTC(),
	})
}

// ReadinessHandler serves GET /health/ready with the same dependency
// gating as /health.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler serves GET /health/startup. The manager exists only after
// initialization, so reaching it means startup completed.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, HealthResponse{
		Status:  statusHealthy,
		Version: m.version,
		Time:    time.Now().UTC(),
	})
}

func writeHealthJSON(w http.ResponseWriter, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide manager used by the global
// handler functions.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil before init.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(handle func(m *HealthManager, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := globalHealthManager
		if m == nil {
			apperrors.WriteError(w, r, http.StatusServiceUnavailable,
				apperrors.CodeServiceUnavailable, "health manager not initialized", nil)
			return
		}
		handle(m, w, r)
	}
}

// Global handler functions route to the installed manager.
var (
	HealthHandler = withGlobalManager((*HealthManager).HealthHandler)
	LivenessHandler = withGlobalManager((*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager((*HealthManager).ReadinessHandler)
	StartupHandler = withGlobalManager((*HealthManager).StartupHandler)
)
