// Package manager supervises the two real-time transports: it decides
// which one is active, performs connect-with-fallback, and runs the
// periodic health loop that drives automatic reconnection.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
	"github.com/clarity-bi/transparency-bridge/pkg/metrics"
)

// Config tunes the manager's health supervision.
type Config struct {
	// HealthCheckInterval is how often the health loop wakes up.
	HealthCheckInterval time.Duration
	// MaxReconnectAttempts caps automatic reconnects before the health
	// loop stops itself.
	MaxReconnectAttempts int
	// ConnectTimeout bounds each connect attempt made by the health loop.
	ConnectTimeout time.Duration
	// Token is presented to the upstream on connect.
	Token string
}

// DefaultConfig returns the supervision defaults: 10s interval, 3
// attempts, 15s connect timeout.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:  10 * time.Second,
		MaxReconnectAttempts: 3,
		ConnectTimeout:       15 * time.Second,
	}
}

// Snapshot is a point-in-time view of the connection state.
type Snapshot struct {
	Connected         bool                    `json:"connected"`
	Active            transport.Kind          `json:"active,omitempty"`
	Transports        map[transport.Kind]bool `json:"transports"`
	ReconnectAttempts int                     `json:"reconnect_attempts"`
}

// Manager coordinates the preferred and fallback transports. The active
// pointer is the single source of truth for which stream's events are
// trusted; events from the other transport are dropped at the fan-out.
type Manager struct {
	cfg        Config
	log        *logger.Logger
	transports map[transport.Kind]transport.Transport
	kinds      []transport.Kind

	mu          sync.Mutex
	initialized bool
	preferred   transport.Kind
	active      transport.Kind
	attempts    int
	healthStop  chan struct{}
	listener    func(Snapshot)
}

// New creates a manager over the given transports. Transports must have
// distinct kinds.
func New(cfg Config, log *logger.Logger, transports ...transport.Transport) *Manager {
	m := &Manager{
		cfg:        cfg,
		log:        log.WithComponent("manager"),
		transports: make(map[transport.Kind]transport.Transport, len(transports)),
	}
	for _, t := range transports {
		m.transports[t.Kind()] = t
		m.kinds = append(m.kinds, t.Kind())
	}
	return m
}

// SetStatusListener registers a callback invoked after every status
// change with a fresh snapshot. Must be called before Initialize.
func (m *Manager) SetStatusListener(fn func(Snapshot)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

// Initialize records the preferred transport and, when autoConnect is
// set, dials immediately and starts health monitoring regardless of the
// first attempt's outcome. Idempotent: a second call is a no-op.
func (m *Manager) Initialize(ctx context.Context, preferred transport.Kind, autoConnect bool) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.transports[preferred]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown transport %q", preferred)
	}
	m.initialized = true
	m.preferred = preferred
	m.mu.Unlock()

	m.log.Info("initialized",
		zap.String("preferred", string(preferred)),
		zap.Bool("auto_connect", autoConnect))

	if !autoConnect {
		return nil
	}

	m.startHealthLoop()
	return m.Connect(ctx)
}

// Connect attempts the preferred transport, then the alternate exactly
// once. Both failing returns an error wrapping both causes. A successful
// connect resets the reconnect counter and (re)starts health monitoring.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return errors.New("manager not initialized")
	}
	preferred := m.preferred
	m.mu.Unlock()

	ctx, span := otel.Tracer("transparency-bridge/manager").Start(ctx, "manager.Connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("transport.preferred", string(preferred))))
	defer span.End()

	errPreferred := m.tryConnect(ctx, preferred)
	if errPreferred == nil {
		return nil
	}

	alt := m.alternate(preferred)
	if alt == "" {
		return errPreferred
	}

	m.log.Warn("preferred transport failed, falling back",
		zap.String("preferred", string(preferred)),
		zap.String("fallback", string(alt)),
		zap.Error(errPreferred))

	errAlt := m.tryConnect(ctx, alt)
	if errAlt == nil {
		return nil
	}

	err := fmt.Errorf("all transports failed: %w", errors.Join(errPreferred, errAlt))
	span.RecordError(err)
	return err
}

func (m *Manager) tryConnect(ctx context.Context, kind transport.Kind) error {
	t := m.transports[kind]
	if err := t.Connect(ctx, m.cfg.Token); err != nil {
		return err
	}

	m.mu.Lock()
	m.active = kind
	m.attempts = 0
	m.mu.Unlock()

	m.setActiveMetric(kind)
	m.log.Info("transport active", zap.String("transport", string(kind)))
	m.startHealthLoop()
	m.notify()
	return nil
}

func (m *Manager) alternate(kind transport.Kind) transport.Kind {
	for _, k := range m.kinds {
		if k != kind {
			return k
		}
	}
	return ""
}

// Disconnect tears down whichever transport is active and stops health
// monitoring. Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.stopHealthLoop()

	m.mu.Lock()
	active := m.active
	m.active = ""
	m.mu.Unlock()

	for kind, t := range m.transports {
		if t.Connected() || kind == active {
			t.Disconnect()
		}
	}

	m.setActiveMetric("")
	m.log.Info("disconnected")
	m.notify()
}

// Subscribe registers h with both transports and returns one unsubscribe
// func that removes both registrations. Events arriving from a transport
// that is not the active one are dropped, so a transient dual connection
// during fallback never delivers duplicates.
func (m *Manager) Subscribe(t event.Type, h event.Handler) func() {
	unsubs := make([]func(), 0, len(m.transports))

	for kind, tr := range m.transports {
		k := kind
		unsubs = append(unsubs, tr.Subscribe(t, func(ev event.Event) {
			if m.Active() != k {
				metrics.EventsDroppedTotal.WithLabelValues(string(k)).Inc()
				return
			}
			h(ev)
		}))
	}

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Send routes msg to whichever transport is connected, preferring the
// active one. Returns ErrNoActiveConnection when neither is connected.
func (m *Manager) Send(ctx context.Context, msg any) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active != "" {
		if t := m.transports[active]; t.Connected() {
			return t.Send(ctx, msg)
		}
	}
	for _, t := range m.transports {
		if t.Connected() {
			return t.Send(ctx, msg)
		}
	}
	return transport.ErrNoActiveConnection
}

// Active returns the active transport kind, or "" when none.
func (m *Manager) Active() transport.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	active := m.active
	attempts := m.attempts
	m.mu.Unlock()

	snap := Snapshot{
		Active:            active,
		Transports:        make(map[transport.Kind]bool, len(m.transports)),
		ReconnectAttempts: attempts,
	}
	for kind, t := range m.transports {
		connected := t.Connected()
		snap.Transports[kind] = connected
		if kind == active && connected {
			snap.Connected = true
		}
	}
	return snap
}

// ResetReconnectAttempts zeroes the reconnect counter and restarts health
// monitoring if it stopped after exhausting the ceiling.
func (m *Manager) ResetReconnectAttempts() {
	m.mu.Lock()
	m.attempts = 0
	initialized := m.initialized
	m.mu.Unlock()

	if initialized {
		m.startHealthLoop()
	}
}

// startHealthLoop launches the supervision timer. No-op when already
// running.
func (m *Manager) startHealthLoop() {
	m.mu.Lock()
	if m.healthStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.healthStop = stop
	m.mu.Unlock()

	m.log.Debug("health monitoring started",
		zap.Duration("interval", m.cfg.HealthCheckInterval))

	go m.healthLoop(stop)
}

func (m *Manager) stopHealthLoop() {
	m.mu.Lock()
	if m.healthStop != nil {
		close(m.healthStop)
		m.healthStop = nil
	}
	m.mu.Unlock()
}

// healthLoop reconnects while disconnected, up to the attempt ceiling.
// At the ceiling it stops itself; recovery then requires an explicit
// Connect or ResetReconnectAttempts call.
func (m *Manager) healthLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if m.Status().Connected {
			continue
		}

		m.mu.Lock()
		if m.attempts >= m.cfg.MaxReconnectAttempts {
			if m.healthStop == stop {
				close(m.healthStop)
				m.healthStop = nil
			}
			m.mu.Unlock()
			m.log.Error("health monitoring halted", zap.Error(transport.ErrReconnectExhausted),
				zap.Int("attempts", m.cfg.MaxReconnectAttempts))
			m.notify()
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.log.Info("health check reconnecting",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxReconnectAttempts))

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		err := m.Connect(ctx)
		cancel()
		if err != nil {
			m.log.Warn("health check reconnect failed", zap.Error(err))
			m.notify()
		}
	}
}

func (m *Manager) setActiveMetric(active transport.Kind) {
	kinds := make([]string, 0, len(m.kinds))
	for _, k := range m.kinds {
		kinds = append(kinds, string(k))
	}
	metrics.SetActiveTransport(string(active), kinds...)
}

func (m *Manager) notify() {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()

	if fn != nil {
		fn(m.Status())
	}
}
