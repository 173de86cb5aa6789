package handler

import (
	"encoding/json"
	"net/http"

	"github.com/clarity-bi/transparency-bridge/internal/middleware"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform error envelope. The correlation ID lets a
// caller quote the failing request when reporting it.
type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError writes a JSON error response tagged with the request's
// correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorBody{
		Error:         message,
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
}
