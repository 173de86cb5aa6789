package store

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(DefaultMaxTraces, logger.NewNop())
}

func ts() time.Time { return time.Now().UTC() }

func TestTraceLifecycle(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{
		Type: event.TypeTraceStarted, TraceID: "t1", SessionID: "s1", ReceivedAt: ts(),
		TraceStarted: &event.TraceStarted{Query: "revenue by region", Model: "gpt-4"},
	})

	tr, ok := s.Trace("t1")
	require.True(t, ok)
	assert.Equal(t, TraceRunning, tr.Status)
	assert.Equal(t, "gpt-4", tr.Model)

	s.Apply(event.Event{
		Type: event.TypeTraceCompleted, TraceID: "t1", ReceivedAt: ts(),
		TraceCompleted: &event.TraceCompleted{FinalConfidence: 0.88, TotalTokens: 1200, Success: true},
	})

	tr, _ = s.Trace("t1")
	assert.Equal(t, TraceCompleted, tr.Status)
	assert.InDelta(t, 0.88, tr.TotalConfidence, 1e-9)
	assert.NotNil(t, tr.CompletedAt)

	m := s.Metrics()
	assert.Equal(t, 1, m.TracesStarted)
	assert.Equal(t, 1, m.TracesCompleted)
	assert.Equal(t, 1200, m.TotalTokens)
}

func TestStepCompletedReplacesNotAppends(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: ts()})

	steps := []event.Step{
		{Name: "intent", Confidence: 0.9, Success: true},
		{Name: "sql_generation", Confidence: 0.8, Success: true},
	}
	ev := event.Event{
		Type: event.TypeStepCompleted, TraceID: "t1", ReceivedAt: ts(),
		StepCompleted: &event.StepCompleted{Step: steps[1], AllSteps: steps},
	}

	s.Apply(ev)
	s.Apply(ev) // replay must be idempotent

	tr, _ := s.Trace("t1")
	require.Len(t, tr.Steps, 2)
	assert.Equal(t, "intent", tr.Steps[0].Name)
	assert.Equal(t, "sql_generation", tr.Steps[1].Name)
}

func TestCompletedConfidenceWinsOverIntermediate(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: ts()})
	s.Apply(event.Event{
		Type: event.TypeConfidenceUpdated, TraceID: "t1", ReceivedAt: ts(),
		ConfidenceUpdated: &event.ConfidenceUpdated{Confidence: 0.42},
	})
	s.Apply(event.Event{
		Type: event.TypeTraceCompleted, TraceID: "t1", ReceivedAt: ts(),
		TraceCompleted: &event.TraceCompleted{FinalConfidence: 0.91, Success: true},
	})

	tr, ok := s.Trace("t1")
	require.True(t, ok)
	assert.InDelta(t, 0.91, tr.TotalConfidence, 1e-9)
}

func TestConfidenceUpdateIgnoredAfterSeal(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: ts()})
	s.Apply(event.Event{
		Type: event.TypeTraceCompleted, TraceID: "t1", ReceivedAt: ts(),
		TraceCompleted: &event.TraceCompleted{FinalConfidence: 0.91, Success: true},
	})
	s.Apply(event.Event{
		Type: event.TypeConfidenceUpdated, TraceID: "t1", ReceivedAt: ts(),
		ConfidenceUpdated: &event.ConfidenceUpdated{Confidence: 0.1},
	})

	tr, _ := s.Trace("t1")
	assert.InDelta(t, 0.91, tr.TotalConfidence, 1e-9)
}

func TestErrorSealsTrace(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: ts()})
	s.Apply(event.Event{
		Type: event.TypeError, TraceID: "t1", ReceivedAt: ts(),
		Error: &event.TraceError{Code: "llm_timeout", Message: "model timed out"},
	})

	tr, _ := s.Trace("t1")
	assert.Equal(t, TraceFailed, tr.Status)
	require.NotNil(t, tr.Error)
	assert.Equal(t, "llm_timeout", tr.Error.Code)
	assert.Equal(t, 1, s.Metrics().TracesFailed)
}

func TestMidStreamEventCreatesTrace(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{
		Type: event.TypeConfidenceUpdated, TraceID: "late", ReceivedAt: ts(),
		ConfidenceUpdated: &event.ConfidenceUpdated{Confidence: 0.5},
	})

	tr, ok := s.Trace("late")
	require.True(t, ok)
	assert.Equal(t, TraceRunning, tr.Status)
	assert.InDelta(t, 0.5, tr.TotalConfidence, 1e-9)
}

func TestDoubleCompletionCountsOnce(t *testing.T) {
	s := newStore(t)

	done := event.Event{
		Type: event.TypeTraceCompleted, TraceID: "t1", ReceivedAt: ts(),
		TraceCompleted: &event.TraceCompleted{FinalConfidence: 0.7, TotalTokens: 100, Success: true},
	}
	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: ts()})
	s.Apply(done)
	s.Apply(done)

	m := s.Metrics()
	assert.Equal(t, 1, m.TracesCompleted)
	assert.Equal(t, 100, m.TotalTokens)
}

func TestPruneEvictsOldestSealed(t *testing.T) {
	s := New(3, logger.NewNop())

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: id, ReceivedAt: ts()})
		s.Apply(event.Event{
			Type: event.TypeTraceCompleted, TraceID: id, ReceivedAt: ts(),
			TraceCompleted: &event.TraceCompleted{Success: true},
		})
	}

	assert.Len(t, s.Traces(), 3)
	_, ok := s.Trace("t0")
	assert.False(t, ok)
	_, ok = s.Trace("t4")
	assert.True(t, ok)
}

func TestPruneKeepsRunningTraces(t *testing.T) {
	s := New(2, logger.NewNop())

	for i := 0; i < 4; i++ {
		s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: fmt.Sprintf("t%d", i), ReceivedAt: ts()})
	}

	// nothing sealed, nothing evicted
	assert.Len(t, s.Traces(), 4)
	assert.Equal(t, 4, s.ActiveTraces())
}

func TestSessionTracking(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", SessionID: "s1", ReceivedAt: ts()})
	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t2", SessionID: "s1", ReceivedAt: ts()})

	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].TraceCount)
	assert.Nil(t, sessions[0].EndedAt)

	s.EndSession("s1")
	sessions = s.Sessions()
	assert.NotNil(t, sessions[0].EndedAt)
}

func TestUnknownEventCounted(t *testing.T) {
	s := newStore(t)
	s.Apply(event.Event{Type: event.TypeUnknown, ReceivedAt: ts()})
	assert.Equal(t, 1, s.Metrics().UnknownEvents)
}

func TestTraceCopiesShareNoState(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: ts()})
	s.Apply(event.Event{
		Type: event.TypeTraceUpdated, TraceID: "t1", ReceivedAt: ts(),
		TraceUpdated: &event.TraceUpdated{Metadata: map[string]any{"stage": "initial"}},
	})

	tr, ok := s.Trace("t1")
	require.True(t, ok)

	s.Apply(event.Event{
		Type: event.TypeTraceUpdated, TraceID: "t1", ReceivedAt: ts(),
		TraceUpdated: &event.TraceUpdated{Metadata: map[string]any{"stage": "revised"}},
	})

	assert.Equal(t, "initial", tr.Metadata["stage"], "a returned copy must not see later reducer writes")

	tr.Steps = append(tr.Steps, event.Step{Name: "injected"})
	fresh, _ := s.Trace("t1")
	assert.Empty(t, fresh.Steps, "mutating a returned copy must not leak into the store")
}

func TestTraceCopyReadableDuringConcurrentUpdates(t *testing.T) {
	s := newStore(t)

	s.Apply(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: ts()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.Apply(event.Event{
				Type: event.TypeTraceUpdated, TraceID: "t1", ReceivedAt: ts(),
				TraceUpdated: &event.TraceUpdated{Metadata: map[string]any{"i": i}},
			})
		}
	}()

	for i := 0; i < 200; i++ {
		tr, ok := s.Trace("t1")
		require.True(t, ok)
		_, err := json.Marshal(tr)
		require.NoError(t, err)
	}
	<-done
}
