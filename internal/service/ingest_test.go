package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/manager"
	"github.com/clarity-bi/transparency-bridge/internal/store"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
)

// stubSource feeds events straight into the registered handlers.
type stubSource struct {
	registry *transport.Registry
	listener func(manager.Snapshot)
}

func newStubSource() *stubSource {
	return &stubSource{registry: transport.NewRegistry()}
}

func (s *stubSource) Subscribe(t event.Type, h event.Handler) func() {
	return s.registry.Subscribe(t, h)
}

func (s *stubSource) SetStatusListener(fn func(manager.Snapshot)) { s.listener = fn }

func (s *stubSource) Status() manager.Snapshot { return manager.Snapshot{} }

func (s *stubSource) emit(ev event.Event) { s.registry.Dispatch(ev) }

// stubPublisher records published events.
type stubPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *stubPublisher) Publish(ctx context.Context, ev event.Event) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return uint64(len(p.events)), nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestIngestAppliesToStore(t *testing.T) {
	src := newStubSource()
	st := store.New(0, logger.NewNop())
	ing := NewIngestor(src, st, nil, logger.NewNop())
	ing.Start()
	defer ing.Stop()

	src.emit(event.Event{
		Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: time.Now().UTC(),
		TraceStarted: &event.TraceStarted{Model: "gpt-4"},
	})

	tr, ok := st.Trace("t1")
	require.True(t, ok)
	assert.Equal(t, "gpt-4", tr.Model)
}

func TestIngestRepublishesToRelay(t *testing.T) {
	src := newStubSource()
	st := store.New(0, logger.NewNop())
	pub := &stubPublisher{}
	ing := NewIngestor(src, st, pub, logger.NewNop())
	ing.Start()
	defer ing.Stop()

	src.emit(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: time.Now().UTC()})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestIngestRelayPreservesArrivalOrder(t *testing.T) {
	src := newStubSource()
	st := store.New(0, logger.NewNop())
	pub := &stubPublisher{}
	ing := NewIngestor(src, st, pub, logger.NewNop())
	ing.Start()
	defer ing.Stop()

	const n = 50
	for k := 0; k < n; k++ {
		src.emit(event.Event{
			Type: event.TypeTraceUpdated, TraceID: "t1", ReceivedAt: time.Now().UTC(),
			TraceUpdated: &event.TraceUpdated{TotalTokens: k + 1},
		})
	}

	require.Eventually(t, func() bool { return pub.count() == n }, 2*time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for k, ev := range pub.events {
		require.NotNil(t, ev.TraceUpdated)
		assert.Equal(t, k+1, ev.TraceUpdated.TotalTokens, "event %d published out of order", k)
	}
}

func TestIngestBroadcastsToSubscribers(t *testing.T) {
	src := newStubSource()
	st := store.New(0, logger.NewNop())
	ing := NewIngestor(src, st, nil, logger.NewNop())
	ing.Start()
	defer ing.Stop()

	ch, unsub := ing.Subscribe()
	defer unsub()

	src.emit(event.Event{Type: event.TypeConfidenceUpdated, TraceID: "t1", ReceivedAt: time.Now().UTC(),
		ConfidenceUpdated: &event.ConfidenceUpdated{Confidence: 0.5}})

	select {
	case ev := <-ch:
		assert.Equal(t, event.TypeConfidenceUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected broadcast event")
	}
}

func TestIngestUnsubscribeClosesChannel(t *testing.T) {
	src := newStubSource()
	ing := NewIngestor(src, store.New(0, logger.NewNop()), nil, logger.NewNop())
	ing.Start()
	defer ing.Stop()

	ch, unsub := ing.Subscribe()
	unsub()
	unsub() // idempotent

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, ing.SubscriberCount())
}

func TestIngestMirrorsConnectionStatus(t *testing.T) {
	src := newStubSource()
	st := store.New(0, logger.NewNop())
	ing := NewIngestor(src, st, nil, logger.NewNop())
	ing.Start()
	defer ing.Stop()

	require.NotNil(t, src.listener)
	src.listener(manager.Snapshot{
		Connected: true,
		Active:    transport.KindSSE,
		Transports: map[transport.Kind]bool{
			transport.KindWebSocket: false,
			transport.KindSSE:       true,
		},
	})

	cs := st.ConnectionStatus()
	assert.True(t, cs.Connected)
	assert.Equal(t, transport.KindSSE, cs.Active)
}

func TestIngestStartIdempotent(t *testing.T) {
	src := newStubSource()
	st := store.New(0, logger.NewNop())
	ing := NewIngestor(src, st, nil, logger.NewNop())
	ing.Start()
	ing.Start()
	defer ing.Stop()

	src.emit(event.Event{Type: event.TypeTraceStarted, TraceID: "t1", ReceivedAt: time.Now().UTC()})

	// a double Start must not double-apply events
	assert.Equal(t, 1, st.Metrics().TracesStarted)
}
