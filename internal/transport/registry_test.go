package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clarity-bi/transparency-bridge/internal/event"
)

func TestRegistryDispatchByType(t *testing.T) {
	r := NewRegistry()

	var started, completed int
	r.Subscribe(event.TypeTraceStarted, func(event.Event) { started++ })
	r.Subscribe(event.TypeTraceCompleted, func(event.Event) { completed++ })

	r.Dispatch(event.Event{Type: event.TypeTraceStarted, TraceID: "t1"})
	r.Dispatch(event.Event{Type: event.TypeTraceStarted, TraceID: "t2"})

	assert.Equal(t, 2, started)
	assert.Equal(t, 0, completed)
}

func TestRegistryUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRegistry()

	var calls int
	unsub := r.Subscribe(event.TypeStepCompleted, func(event.Event) { calls++ })
	unsub()

	r.Dispatch(event.Event{Type: event.TypeStepCompleted, TraceID: "t1"})
	assert.Equal(t, 0, calls)
}

func TestRegistryUnsubscribeIdempotent(t *testing.T) {
	r := NewRegistry()

	unsub := r.Subscribe(event.TypeError, func(event.Event) {})
	other := r.Subscribe(event.TypeError, func(event.Event) {})
	_ = other

	unsub()
	unsub()

	assert.Equal(t, 1, r.Count(event.TypeError))
}

func TestRegistryMultipleHandlers(t *testing.T) {
	r := NewRegistry()

	var a, b int
	r.Subscribe(event.TypeConfidenceUpdated, func(event.Event) { a++ })
	r.Subscribe(event.TypeConfidenceUpdated, func(event.Event) { b++ })

	r.Dispatch(event.Event{Type: event.TypeConfidenceUpdated, TraceID: "t1"})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
