package handler

import (
	"net/http"

	"github.com/clarity-bi/transparency-bridge/internal/manager"
)

// RelayChecker reports downstream relay connectivity. Nil means no relay
// is configured and readiness skips the check.
type RelayChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints. Dashboards poll these to
// decide between live and mock mode.
type HealthHandler struct {
	mgr   *manager.Manager
	relay RelayChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(mgr *manager.Manager, relay RelayChecker) *HealthHandler {
	return &HealthHandler{mgr: mgr, relay: relay}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.relay != nil && !h.relay.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "relay not connected",
		})
		return
	}

	if !h.mgr.Status().Connected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "upstream not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
