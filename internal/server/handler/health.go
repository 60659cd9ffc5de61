package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheckFn probes one dependency.
type HealthCheckFn func(ctx context.Context) error

// HealthHandler serves the health endpoint, probing each registered
// dependency with a short per-check timeout.
type HealthHandler struct {
	checks map[string]HealthCheckFn
}

// NewHealthHandler creates a HealthHandler over the named dependency
// checks. checks may be nil for a liveness-only endpoint.
func NewHealthHandler(checks map[string]HealthCheckFn) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthCheck reports overall status plus per-dependency results.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
		} else {
			deps[name] = "ok"
		}
		cancel()
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
