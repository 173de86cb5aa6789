// Package service contains the ingest pipeline: events arriving from the
// active transport are folded into the state store, republished to the
// relay, and fanned out to downstream SSE subscribers.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/manager"
	"github.com/clarity-bi/transparency-bridge/internal/store"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
)

const (
	subscriberBuffer = 64
	publishBuffer    = 256
	publishTimeout   = 5 * time.Second
)

// Source is the upstream event feed the ingestor consumes. The
// connection manager satisfies it.
type Source interface {
	Subscribe(t event.Type, h event.Handler) func()
	SetStatusListener(fn func(manager.Snapshot))
	Status() manager.Snapshot
}

// Publisher republishes normalized events downstream. The relay stream
// manager satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) (uint64, error)
}

// Ingestor is the fan-in/fan-out hub between the transports and
// everything that consumes their events.
type Ingestor struct {
	source Source
	store  *store.Store
	pub    Publisher
	log    *logger.Logger

	mu      sync.Mutex
	subs    map[string]chan event.Event
	unsubs  []func()
	started bool

	// relay publishing runs through a single worker so the stream's
	// sequence numbers preserve arrival order
	pubCh   chan event.Event
	pubStop chan struct{}
	pubDone chan struct{}
}

// NewIngestor creates an ingestor. pub may be nil when no relay is
// configured.
func NewIngestor(src Source, st *store.Store, pub Publisher, log *logger.Logger) *Ingestor {
	return &Ingestor{
		source: src,
		store:  st,
		pub:    pub,
		log:    log.WithComponent("ingest"),
		subs:   make(map[string]chan event.Event),
	}
}

// Start subscribes to every event type on the source and begins
// mirroring connection status into the store. Idempotent.
func (i *Ingestor) Start() {
	i.mu.Lock()
	if i.started {
		i.mu.Unlock()
		return
	}
	i.started = true
	if i.pub != nil {
		i.pubCh = make(chan event.Event, publishBuffer)
		i.pubStop = make(chan struct{})
		i.pubDone = make(chan struct{})
		go i.publishLoop(i.pubCh, i.pubStop, i.pubDone)
	}
	i.mu.Unlock()

	i.source.SetStatusListener(func(snap manager.Snapshot) {
		i.store.SetConnectionStatus(store.ConnectionStatus{
			Connected:         snap.Connected,
			Active:            snap.Active,
			Transports:        snap.Transports,
			ReconnectAttempts: snap.ReconnectAttempts,
		})
	})

	types := append([]event.Type{}, event.Types...)
	types = append(types, event.TypeUnknown)

	i.mu.Lock()
	for _, t := range types {
		i.unsubs = append(i.unsubs, i.source.Subscribe(t, i.handle))
	}
	i.mu.Unlock()
}

// Stop removes the source subscriptions and closes all subscriber
// channels.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	for _, u := range i.unsubs {
		u()
	}
	i.unsubs = nil
	for id, ch := range i.subs {
		close(ch)
		delete(i.subs, id)
	}
	stop, done := i.pubStop, i.pubDone
	i.pubCh = nil
	i.pubStop, i.pubDone = nil, nil
	i.started = false
	i.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (i *Ingestor) handle(ev event.Event) {
	i.store.Apply(ev)

	i.mu.Lock()
	pubCh := i.pubCh
	i.mu.Unlock()
	if pubCh != nil {
		select {
		case pubCh <- ev:
		default:
			i.log.Warn("relay publish queue full, dropping event",
				zap.String("type", string(ev.Type)),
				zap.String("trace_id", ev.TraceID))
		}
	}

	i.broadcast(ev)
}

// publishLoop is the sole writer to the relay. On stop it flushes the
// queue before returning.
func (i *Ingestor) publishLoop(ch <-chan event.Event, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case ev := <-ch:
			i.publish(ev)
		case <-stop:
			for {
				select {
				case ev := <-ch:
					i.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (i *Ingestor) publish(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := i.pub.Publish(ctx, ev); err != nil {
		i.log.Warn("relay publish failed",
			zap.String("type", string(ev.Type)),
			zap.String("trace_id", ev.TraceID),
			zap.Error(err))
	}
}

// Subscribe returns a channel receiving every ingested event and an
// unsubscribe func. Slow subscribers drop events rather than block the
// pipeline.
func (i *Ingestor) Subscribe() (<-chan event.Event, func()) {
	id := uuid.New().String()
	ch := make(chan event.Event, subscriberBuffer)

	i.mu.Lock()
	i.subs[id] = ch
	i.mu.Unlock()

	return ch, func() {
		i.mu.Lock()
		if c, ok := i.subs[id]; ok {
			delete(i.subs, id)
			close(c)
		}
		i.mu.Unlock()
	}
}

func (i *Ingestor) broadcast(ev event.Event) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for id, ch := range i.subs {
		select {
		case ch <- ev:
		default:
			i.log.Debug("dropping event for slow subscriber", zap.String("subscriber", id))
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (i *Ingestor) SubscriberCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.subs)
}
