package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clarity-bi/transparency-bridge/internal/middleware"
	"github.com/clarity-bi/transparency-bridge/internal/store"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
)

// TraceHandler serves the aggregated trace state to dashboards.
type TraceHandler struct {
	store *store.Store
	log   *logger.Logger
}

// NewTraceHandler creates a new trace handler.
func NewTraceHandler(st *store.Store, log *logger.Logger) *TraceHandler {
	return &TraceHandler{store: st, log: log}
}

// ListTracesResponse is the response for listing traces.
type ListTracesResponse struct {
	Traces  []store.Trace `json:"traces"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

// List handles GET /api/v1/traces
func (h *TraceHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	traces := h.store.Traces()
	total := len(traces)

	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, ListTracesResponse{
		Traces:  traces[start:end],
		Total:   total,
		HasMore: end < total,
	})
}

// Get handles GET /api/v1/traces/{id}
func (h *TraceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateTraceID(id); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tr, ok := h.store.Trace(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "trace not found")
		return
	}

	writeJSON(w, http.StatusOK, tr)
}

// Sessions handles GET /api/v1/sessions
func (h *TraceHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.store.Sessions(),
	})
}

// Metrics handles GET /api/v1/metrics — rolling aggregates for the cost
// and quality panels.
func (h *TraceHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Metrics())
}
