// Package event defines the typed vocabulary for AI-transparency events
// received from the copilot backend.
package event

import (
	"time"
)

// Type identifies the kind of transparency event.
type Type string

const (
	TypeTraceStarted      Type = "trace_started"
	TypeTraceUpdated      Type = "trace_updated"
	TypeTraceCompleted    Type = "trace_completed"
	TypeStepCompleted     Type = "step_completed"
	TypeConfidenceUpdated Type = "confidence_updated"
	TypeError             Type = "error"

	// TypeUnknown is assigned to payloads whose type field is not in the
	// closed set above. Unknown events are counted and logged, never fatal.
	TypeUnknown Type = "unknown"
)

// Types lists every recognized event type, in dispatch-table order.
var Types = []Type{
	TypeTraceStarted,
	TypeTraceUpdated,
	TypeTraceCompleted,
	TypeStepCompleted,
	TypeConfidenceUpdated,
	TypeError,
}

// Step is one stage of a query's processing pipeline.
type Step struct {
	Name       string     `json:"name"`
	Confidence float64    `json:"confidence"`
	Tokens     int        `json:"tokens,omitempty"`
	Success    bool       `json:"success"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Factor is one contributor to a confidence score.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// TraceStarted announces a new processing trace.
type TraceStarted struct {
	Query     string    `json:"query,omitempty"`
	Model     string    `json:"model,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// TraceUpdated carries an incremental metadata change for a running trace.
type TraceUpdated struct {
	Model       string         `json:"model,omitempty"`
	TotalTokens int            `json:"total_tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StepCompleted reports a finished pipeline step. AllSteps is the full
// replacement list for the trace, not a delta.
type StepCompleted struct {
	Step     Step   `json:"step"`
	AllSteps []Step `json:"allSteps"`
}

// ConfidenceUpdated carries a rolling confidence score.
type ConfidenceUpdated struct {
	Confidence float64  `json:"confidence"`
	Factors    []Factor `json:"factors,omitempty"`
}

// TraceCompleted seals a trace with its final figures.
type TraceCompleted struct {
	FinalConfidence  float64 `json:"finalConfidence"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	ProcessingTimeMs int64   `json:"processing_time_ms,omitempty"`
	Success          bool    `json:"success"`
}

// TraceError reports a failed trace.
type TraceError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Event is one immutable, typed message delivered by a transport. Exactly
// one payload field is set, matching Type; unknown events keep the raw
// payload bytes in Raw.
type Event struct {
	Type       Type      `json:"type"`
	TraceID    string    `json:"trace_id"`
	SessionID  string    `json:"session_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	TraceStarted      *TraceStarted      `json:"trace_started,omitempty"`
	TraceUpdated      *TraceUpdated      `json:"trace_updated,omitempty"`
	TraceCompleted    *TraceCompleted    `json:"trace_completed,omitempty"`
	StepCompleted     *StepCompleted     `json:"step_completed,omitempty"`
	ConfidenceUpdated *ConfidenceUpdated `json:"confidence_updated,omitempty"`
	Error             *TraceError        `json:"error,omitempty"`

	Raw []byte `json:"-"`
}

// Handler consumes a single event.
type Handler func(Event)
