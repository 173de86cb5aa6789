package store

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
	"github.com/clarity-bi/transparency-bridge/pkg/metrics"
)

// DefaultMaxTraces bounds how many traces the store retains before the
// oldest sealed ones are pruned.
const DefaultMaxTraces = 500

// Store is the in-memory state store.
type Store struct {
	mu        sync.RWMutex
	maxTraces int
	traces    map[string]*Trace
	order     []string
	sessions  map[string]*Session
	metrics   Metrics
	conn      ConnectionStatus
	log       *logger.Logger
}

// New creates an empty store retaining at most maxTraces traces.
func New(maxTraces int, log *logger.Logger) *Store {
	if maxTraces <= 0 {
		maxTraces = DefaultMaxTraces
	}
	return &Store{
		maxTraces: maxTraces,
		traces:    make(map[string]*Trace),
		sessions:  make(map[string]*Session),
		log:       log.WithComponent("store"),
	}
}

// Apply merges one event into the state. Reducers are total: an event for
// an unseen trace creates it, an event for a sealed trace is ignored
// (except trace_completed and error, which are idempotent re-seals), and
// applying the same event twice yields the same state.
func (s *Store) Apply(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case event.TypeTraceStarted:
		s.applyTraceStarted(ev)
	case event.TypeTraceUpdated:
		s.applyTraceUpdated(ev)
	case event.TypeStepCompleted:
		s.applyStepCompleted(ev)
	case event.TypeConfidenceUpdated:
		s.applyConfidenceUpdated(ev)
	case event.TypeTraceCompleted:
		s.applyTraceCompleted(ev)
	case event.TypeError:
		s.applyError(ev)
	case event.TypeUnknown:
		s.metrics.UnknownEvents++
	}

	s.prune()
	metrics.TracesActive.Set(float64(s.activeCount()))
}

func (s *Store) applyTraceStarted(ev event.Event) {
	if _, exists := s.traces[ev.TraceID]; exists {
		return
	}

	tr := &Trace{
		ID:        ev.TraceID,
		SessionID: ev.SessionID,
		Status:    TraceRunning,
		Steps:     []event.Step{},
		StartedAt: ev.ReceivedAt,
		UpdatedAt: ev.ReceivedAt,
	}
	if p := ev.TraceStarted; p != nil {
		tr.Query = p.Query
		tr.Model = p.Model
		if !p.StartedAt.IsZero() {
			tr.StartedAt = p.StartedAt
		}
	}

	s.traces[ev.TraceID] = tr
	s.order = append(s.order, ev.TraceID)
	s.metrics.TracesStarted++
	s.touchSession(ev.SessionID, ev.ReceivedAt)
}

func (s *Store) applyTraceUpdated(ev event.Event) {
	tr := s.ensure(ev)
	if tr.Sealed() {
		return
	}

	if p := ev.TraceUpdated; p != nil {
		if p.Model != "" {
			tr.Model = p.Model
		}
		if p.TotalTokens > 0 {
			tr.TotalTokens = p.TotalTokens
		}
		if p.Metadata != nil {
			if tr.Metadata == nil {
				tr.Metadata = make(map[string]any, len(p.Metadata))
			}
			for k, v := range p.Metadata {
				tr.Metadata[k] = v
			}
		}
	}
	tr.UpdatedAt = ev.ReceivedAt
}

// applyStepCompleted replaces the step list wholesale from the payload's
// allSteps field. Replaying the same event leaves the list unchanged.
func (s *Store) applyStepCompleted(ev event.Event) {
	tr := s.ensure(ev)
	if tr.Sealed() {
		return
	}

	if p := ev.StepCompleted; p != nil {
		tr.Steps = append(tr.Steps[:0:0], p.AllSteps...)
	}
	tr.UpdatedAt = ev.ReceivedAt
}

func (s *Store) applyConfidenceUpdated(ev event.Event) {
	tr := s.ensure(ev)
	if tr.Sealed() {
		return
	}

	if p := ev.ConfidenceUpdated; p != nil {
		tr.TotalConfidence = p.Confidence
		tr.ConfidenceFactors = append(tr.ConfidenceFactors[:0:0], p.Factors...)
	}
	tr.UpdatedAt = ev.ReceivedAt
}

func (s *Store) applyTraceCompleted(ev event.Event) {
	tr := s.ensure(ev)
	sealed := tr.Sealed()

	if p := ev.TraceCompleted; p != nil {
		tr.TotalConfidence = p.FinalConfidence
		if p.TotalTokens > 0 {
			tr.TotalTokens = p.TotalTokens
		}
		tr.ProcessingTimeMs = p.ProcessingTimeMs
		if p.Success {
			tr.Status = TraceCompleted
		} else {
			tr.Status = TraceFailed
		}
	} else {
		tr.Status = TraceCompleted
	}

	if !sealed {
		done := ev.ReceivedAt
		tr.CompletedAt = &done
		if tr.Status == TraceFailed {
			s.metrics.TracesFailed++
		} else {
			s.metrics.TracesCompleted++
		}
		s.metrics.TotalTokens += tr.TotalTokens
		s.recomputeAvgConfidence()
	}
	tr.UpdatedAt = ev.ReceivedAt
}

func (s *Store) applyError(ev event.Event) {
	tr := s.ensure(ev)
	sealed := tr.Sealed()

	tr.Status = TraceFailed
	tr.Error = ev.Error

	if !sealed {
		done := ev.ReceivedAt
		tr.CompletedAt = &done
		s.metrics.TracesFailed++
	}
	tr.UpdatedAt = ev.ReceivedAt
}

// ensure returns the trace for ev, creating a running skeleton when the
// start event was missed (late joiners).
func (s *Store) ensure(ev event.Event) *Trace {
	if tr, ok := s.traces[ev.TraceID]; ok {
		return tr
	}

	s.log.Debug("creating trace from mid-stream event",
		zap.String("trace_id", ev.TraceID), zap.String("type", string(ev.Type)))

	tr := &Trace{
		ID:        ev.TraceID,
		SessionID: ev.SessionID,
		Status:    TraceRunning,
		Steps:     []event.Step{},
		StartedAt: ev.ReceivedAt,
		UpdatedAt: ev.ReceivedAt,
	}
	s.traces[ev.TraceID] = tr
	s.order = append(s.order, ev.TraceID)
	s.metrics.TracesStarted++
	s.touchSession(ev.SessionID, ev.ReceivedAt)
	return tr
}

func (s *Store) touchSession(id string, at time.Time) {
	if id == "" {
		return
	}
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id, StartedAt: at}
		s.sessions[id] = sess
	}
	sess.TraceCount++
}

// EndSession marks a session finished. No-op for unknown sessions.
func (s *Store) EndSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.EndedAt != nil {
		return
	}
	now := time.Now().UTC()
	sess.EndedAt = &now
}

// SetConnectionStatus mirrors the manager's status snapshot into state.
func (s *Store) SetConnectionStatus(cs ConnectionStatus) {
	s.mu.Lock()
	cs.UpdatedAt = time.Now().UTC()
	s.conn = cs
	s.mu.Unlock()
}

func (s *Store) recomputeAvgConfidence() {
	var sum float64
	var n int
	for _, tr := range s.traces {
		if tr.Status == TraceCompleted {
			sum += tr.TotalConfidence
			n++
		}
	}
	if n == 0 {
		s.metrics.AvgConfidence = 0
		return
	}
	s.metrics.AvgConfidence = sum / float64(n)
}

// prune evicts the oldest sealed traces past the retention cap.
func (s *Store) prune() {
	if len(s.traces) <= s.maxTraces {
		return
	}

	kept := s.order[:0]
	excess := len(s.traces) - s.maxTraces
	for _, id := range s.order {
		tr := s.traces[id]
		if excess > 0 && tr != nil && tr.Sealed() {
			delete(s.traces, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Store) activeCount() int {
	n := 0
	for _, tr := range s.traces {
		if !tr.Sealed() {
			n++
		}
	}
	return n
}

// Trace returns a deep copy of one trace.
func (s *Store) Trace(id string) (Trace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.traces[id]
	if !ok {
		return Trace{}, false
	}
	return tr.clone(), true
}

// Traces returns deep copies of all traces, newest first.
func (s *Store) Traces() []Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Trace, 0, len(s.traces))
	for _, tr := range s.traces {
		out = append(out, tr.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Sessions returns copies of all sessions.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Metrics returns the rolling aggregates.
func (s *Store) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// ConnectionStatus returns the mirrored connection status.
func (s *Store) ConnectionStatus() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// ActiveTraces returns the number of unsealed traces.
func (s *Store) ActiveTraces() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeCount()
}
