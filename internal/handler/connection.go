// Package handler provides HTTP handlers for the bridge API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/manager"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
)

// ConnectionHandler exposes the manual connection controls the dashboard
// surfaces: status, connect, disconnect, reset, and the best-effort send
// channel.
type ConnectionHandler struct {
	mgr *manager.Manager
	log *logger.Logger
}

// NewConnectionHandler creates a new connection handler.
func NewConnectionHandler(mgr *manager.Manager, log *logger.Logger) *ConnectionHandler {
	return &ConnectionHandler{mgr: mgr, log: log}
}

// Status handles GET /api/v1/connection
func (h *ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

// Connect handles POST /api/v1/connection/connect
func (h *ConnectionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.Connect(r.Context()); err != nil {
		h.log.Error("manual connect failed", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

// Disconnect handles POST /api/v1/connection/disconnect
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.mgr.Disconnect()
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

// Reset handles POST /api/v1/connection/reset — zeroes the reconnect
// counter and resumes health monitoring after exhaustion.
func (h *ConnectionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.mgr.ResetReconnectAttempts()
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

// Send handles POST /api/v1/connection/send — forwards an arbitrary JSON
// object upstream. The outbound shape is not validated.
func (h *ConnectionHandler) Send(w http.ResponseWriter, r *http.Request) {
	var msg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.mgr.Send(r.Context(), msg); err != nil {
		if errors.Is(err, transport.ErrNoActiveConnection) {
			writeError(w, r, http.StatusServiceUnavailable, "no active connection")
			return
		}
		h.log.Error("send failed", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "send failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}
