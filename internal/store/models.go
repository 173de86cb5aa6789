// Package store holds the in-memory transparency state: traces, sessions,
// rolling metrics, and a mirror of the connection status. All mutation
// goes through Apply, serialized by a single mutex, so reducers stay pure
// merge functions over the previous state.
package store

import (
	"time"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
)

// TraceStatus is the lifecycle state of a trace.
type TraceStatus string

const (
	TraceRunning   TraceStatus = "running"
	TraceCompleted TraceStatus = "completed"
	TraceFailed    TraceStatus = "failed"
)

// Trace is the recorded timeline of one query's processing pipeline.
type Trace struct {
	ID                string             `json:"id"`
	SessionID         string             `json:"session_id,omitempty"`
	Status            TraceStatus        `json:"status"`
	Query             string             `json:"query,omitempty"`
	Model             string             `json:"model,omitempty"`
	Steps             []event.Step       `json:"steps"`
	TotalConfidence   float64            `json:"total_confidence"`
	ConfidenceFactors []event.Factor     `json:"confidence_factors,omitempty"`
	TotalTokens       int                `json:"total_tokens"`
	ProcessingTimeMs  int64              `json:"processing_time_ms,omitempty"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
	Error             *event.TraceError  `json:"error,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// Sealed reports whether the trace reached a terminal state.
func (t *Trace) Sealed() bool {
	return t.Status == TraceCompleted || t.Status == TraceFailed
}

// clone returns a copy sharing no mutable state with the receiver, so
// callers can read it while reducers keep mutating the live trace.
func (t *Trace) clone() Trace {
	out := *t
	out.Steps = append([]event.Step(nil), t.Steps...)
	out.ConfidenceFactors = append([]event.Factor(nil), t.ConfidenceFactors...)
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Session groups the traces of one query session.
type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	TraceCount int        `json:"trace_count"`
}

// Metrics are rolling aggregates over everything the store has seen.
type Metrics struct {
	TracesStarted   int     `json:"traces_started"`
	TracesCompleted int     `json:"traces_completed"`
	TracesFailed    int     `json:"traces_failed"`
	TotalTokens     int     `json:"total_tokens"`
	AvgConfidence   float64 `json:"avg_confidence"`
	UnknownEvents   int     `json:"unknown_events"`
}

// ConnectionStatus mirrors the manager's view of the real-time link.
type ConnectionStatus struct {
	Connected         bool                    `json:"connected"`
	Active            transport.Kind          `json:"active,omitempty"`
	Transports        map[transport.Kind]bool `json:"transports"`
	ReconnectAttempts int                     `json:"reconnect_attempts"`
	UpdatedAt         time.Time               `json:"updated_at"`
}
