package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/manager"
	"github.com/clarity-bi/transparency-bridge/internal/service"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
)

type stubSource struct {
	registry *transport.Registry
}

func newStubSource() *stubSource {
	return &stubSource{registry: transport.NewRegistry()}
}

func (s *stubSource) Subscribe(t event.Type, h event.Handler) func() {
	return s.registry.Subscribe(t, h)
}

func (s *stubSource) SetStatusListener(fn func(manager.Snapshot)) {}

func (s *stubSource) Status() manager.Snapshot { return manager.Snapshot{} }

func (s *stubSource) deliver(ev event.Event) { s.registry.Dispatch(ev) }

func TestStreamSnapshotThenLive(t *testing.T) {
	src := newStubSource()
	st := seedStore(t, 1)
	ing := service.NewIngestor(src, st, nil, logger.NewNop())
	ing.Start()

	h := NewStreamHandler(ing, st, nil, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return ing.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	src.deliver(event.Event{
		Type:         event.TypeTraceStarted,
		TraceID:      "live-1",
		ReceivedAt:   time.Now(),
		TraceStarted: &event.TraceStarted{Model: "gpt-4"},
	})

	// closing the subscriber channel ends the stream after the buffered
	// event is drained
	ing.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: snapshot")
	assert.Contains(t, body, "trace-a", "snapshot carries pre-existing state")
	assert.Contains(t, body, "event: event")
	assert.Contains(t, body, "live-1")
}

type stubReplayer struct {
	events []event.Event
	lastID string
}

func (r *stubReplayer) Replay(ctx context.Context, sessionID string, after uint64, limit int) ([]event.Event, uint64, bool, error) {
	return r.events, after + uint64(len(r.events)), false, nil
}

func TestStreamResumeWithReplay(t *testing.T) {
	src := newStubSource()
	st := seedStore(t, 0)
	ing := service.NewIngestor(src, st, nil, logger.NewNop())
	ing.Start()

	rp := &stubReplayer{events: []event.Event{
		{Type: event.TypeTraceStarted, TraceID: "replayed-1"},
		{Type: event.TypeTraceCompleted, TraceID: "replayed-1"},
	}}
	h := NewStreamHandler(ing, st, rp, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream?after_sequence=5", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return ing.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	ing.Stop()
	<-done

	body := rec.Body.String()
	assert.NotContains(t, body, "event: snapshot")
	assert.Contains(t, body, "replayed-1")
	assert.Contains(t, body, "event: replay_done")
	assert.Contains(t, body, `"last_sequence":7`)
}

func TestStreamRejectsBadSequence(t *testing.T) {
	src := newStubSource()
	st := seedStore(t, 0)
	ing := service.NewIngestor(src, st, nil, logger.NewNop())

	h := NewStreamHandler(ing, st, nil, logger.NewNop())

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream?after_sequence=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
