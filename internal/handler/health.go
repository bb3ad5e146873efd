package handler

import (
	"net/http"
)

// ReadinessCheck reports a dependency that is not ready.
type ReadinessCheck struct {
	Name  string
	Check func() error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	responder string
	checks    []ReadinessCheck
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(responder string, checks ...ReadinessCheck) *HealthHandler {
	return &HealthHandler{
		responder: responder,
		checks:    checks,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.checks {
		if err := c.Check(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": c.Name + ": " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"responder": h.responder,
	})
}
