package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the wire shape shared by every inbound payload: a type tag,
// a trace/session identifier, and a type-specific body.
type envelope struct {
	Type      string          `json:"type"`
	TraceID   string          `json:"traceId"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

type decoder func(ev *Event, payload json.RawMessage) error

// dispatch is the fixed type-tag table. Adding a new event kind means
// adding a row here and a payload struct in event.go.
var dispatch = map[string]decoder{
	string(TypeTraceStarted): func(ev *Event, p json.RawMessage) error {
		ev.TraceStarted = &TraceStarted{}
		return unmarshalPayload(p, ev.TraceStarted)
	},
	string(TypeTraceUpdated): func(ev *Event, p json.RawMessage) error {
		ev.TraceUpdated = &TraceUpdated{}
		return unmarshalPayload(p, ev.TraceUpdated)
	},
	string(TypeTraceCompleted): func(ev *Event, p json.RawMessage) error {
		ev.TraceCompleted = &TraceCompleted{}
		return unmarshalPayload(p, ev.TraceCompleted)
	},
	string(TypeStepCompleted): func(ev *Event, p json.RawMessage) error {
		ev.StepCompleted = &StepCompleted{}
		return unmarshalPayload(p, ev.StepCompleted)
	},
	string(TypeConfidenceUpdated): func(ev *Event, p json.RawMessage) error {
		ev.ConfidenceUpdated = &ConfidenceUpdated{}
		return unmarshalPayload(p, ev.ConfidenceUpdated)
	},
	string(TypeError): func(ev *Event, p json.RawMessage) error {
		ev.Error = &TraceError{}
		return unmarshalPayload(p, ev.Error)
	},
}

func unmarshalPayload(p json.RawMessage, v any) error {
	if len(p) == 0 {
		return nil
	}
	return json.Unmarshal(p, v)
}

// Parse decodes one inbound message into a typed Event. Payloads with an
// unrecognized type tag produce a TypeUnknown event carrying the raw bytes;
// only malformed JSON or a missing trace identifier is an error.
func Parse(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("failed to decode event envelope: %w", err)
	}

	ev := Event{
		TraceID:    env.TraceID,
		SessionID:  env.SessionID,
		ReceivedAt: time.Now().UTC(),
		Raw:        data,
	}

	dec, ok := dispatch[env.Type]
	if !ok {
		ev.Type = TypeUnknown
		return ev, nil
	}

	if env.TraceID == "" {
		return Event{}, fmt.Errorf("event %q missing trace identifier", env.Type)
	}

	ev.Type = Type(env.Type)
	if err := dec(&ev, env.Payload); err != nil {
		return Event{}, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}

	return ev, nil
}
