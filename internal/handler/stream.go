package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/service"
	"github.com/clarity-bi/transparency-bridge/internal/store"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
	"github.com/clarity-bi/transparency-bridge/pkg/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	replayBatchLimit  = 500
)

// Replayer feeds back events recorded after a given stream sequence. Nil
// means no relay is configured and resume requests fall back to the
// snapshot.
type Replayer interface {
	Replay(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]event.Event, uint64, bool, error)
}

// StreamHandler re-broadcasts ingested events to dashboards over SSE.
type StreamHandler struct {
	ingestor *service.Ingestor
	store    *store.Store
	replayer Replayer
	logger   *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(ing *service.Ingestor, st *store.Store, rp Replayer, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		ingestor: ing,
		store:    st,
		replayer: rp,
		logger:   log,
	}
}

// SnapshotEvent is the initial state replay sent to a new subscriber.
type SnapshotEvent struct {
	Traces     []store.Trace          `json:"traces"`
	Connection store.ConnectionStatus `json:"connection"`
}

// HeartbeatEvent keeps idle connections alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/stream
//
// A new subscriber first receives a "snapshot" event with current state,
// then live "event" frames as they are ingested, with periodic
// heartbeats. Passing after_sequence (and optionally session) replays
// recorded events from the relay instead of the snapshot.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var afterSeq uint64
	if s := r.URL.Query().Get("after_sequence"); s != "" {
		parsed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSeq = parsed
	}
	sessionID := r.URL.Query().Get("session")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	events, unsub := h.ingestor.Subscribe()
	defer unsub()

	if afterSeq > 0 && h.replayer != nil {
		replayed, lastSeq, _, err := h.replayer.Replay(ctx, sessionID, afterSeq, replayBatchLimit)
		if err != nil {
			h.logger.Warn("replay failed, sending snapshot instead", zap.Error(err))
			sendSSEEvent(w, flusher, "snapshot", h.snapshot())
		} else {
			for _, ev := range replayed {
				sendSSEEvent(w, flusher, "event", ev)
			}
			sendSSEEvent(w, flusher, "replay_done", map[string]uint64{"last_sequence": lastSeq})
		}
	} else {
		sendSSEEvent(w, flusher, "snapshot", h.snapshot())
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected")
			return

		case ev, open := <-events:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, "event", ev)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", HeartbeatEvent{Timestamp: time.Now().UTC()})
		}
	}
}

func (h *StreamHandler) snapshot() SnapshotEvent {
	return SnapshotEvent{
		Traces:     h.store.Traces(),
		Connection: h.store.ConnectionStatus(),
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
