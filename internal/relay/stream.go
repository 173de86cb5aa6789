package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/pkg/metrics"
)

const (
	// StreamName is the name of the transparency stream.
	StreamName = "TRANSPARENCY"

	// SubjectPrefix is the prefix for all transparency subjects.
	SubjectPrefix = "transparency"
)

// StreamManager handles JetStream stream operations for the transparency
// feed.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the transparency stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Normalized AI-transparency events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for one event. Events without a
// session land under the "_" session bucket.
func EventSubject(sessionID string, t event.Type) string {
	if sessionID == "" {
		sessionID = "_"
	}
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, sessionID, t)
}

// Publish republishes one normalized event to the transparency stream and
// returns its stream sequence.
func (m *StreamManager) Publish(ctx context.Context, ev event.Event) (uint64, error) {
	subject := EventSubject(ev.SessionID, ev.Type)

	data, err := json.Marshal(ev)
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues(string(ev.Type), "error").Inc()
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues(string(ev.Type), "error").Inc()
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.RelayPublishTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	return ack.Sequence, nil
}

// Replay fetches up to limit events recorded after the given stream
// sequence, optionally filtered to one session.
func (m *StreamManager) Replay(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]event.Event, uint64, bool, error) {
	js := m.client.JetStream()

	filter := fmt.Sprintf("%s.>", SubjectPrefix)
	if sessionID != "" {
		filter = fmt.Sprintf("%s.%s.>", SubjectPrefix, sessionID)
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: filter,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	var events []event.Event
	var lastSequence uint64

	for msg := range batch.Messages() {
		var ev event.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		events = append(events, ev)
	}

	if err := batch.Error(); err != nil && !fetchExhausted(err) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	hasMore := len(events) == limit
	return events, lastSequence, hasMore, nil
}

// fetchExhausted reports whether a batch error just means the fetch
// window elapsed with fewer messages than requested. Such errors may be
// wrapped, so identity comparison is not enough.
func fetchExhausted(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout)
}
