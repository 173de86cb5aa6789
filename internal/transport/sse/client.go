// Package sse implements the Server-Sent-Events transport client.
//
// Events arrive on a long-lived text/event-stream response; outbound
// control messages go over a companion POST endpoint, so the transport is
// bidirectional from the caller's point of view.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
	"github.com/clarity-bi/transparency-bridge/pkg/metrics"
)

const (
	handshakeTimeout = 10 * time.Second
	sendTimeout      = 10 * time.Second
)

// Client is an SSE transport. The stream URL delivers events; sendURL
// accepts outbound control messages.
type Client struct {
	streamURL string
	sendURL   string
	policy    transport.RetryPolicy
	log       *logger.Logger
	registry  *transport.Registry
	http      *http.Client

	mu     sync.Mutex
	status transport.Status
	token  string
	// gen identifies the current stream. The read loop carries the gen it
	// was started with, so a stale stream ending cannot clobber the state
	// of its replacement.
	gen          uint64
	closing      bool
	streamCancel context.CancelFunc
	retryCancel  context.CancelFunc
}

// New creates an SSE client. sendURL may be empty, in which case Send
// always drops.
func New(streamURL, sendURL string, policy transport.RetryPolicy, log *logger.Logger) *Client {
	return &Client{
		streamURL: streamURL,
		sendURL:   sendURL,
		policy:    policy,
		log:       log.WithTransport(string(transport.KindSSE)),
		registry:  transport.NewRegistry(),
		status:    transport.StatusDisconnected,
		http: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: handshakeTimeout},
		},
	}
}

// Kind reports the transport kind.
func (c *Client) Kind() transport.Kind { return transport.KindSSE }

// Connect opens the event stream and resolves once response headers
// confirm it.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	switch c.status {
	case transport.StatusConnected:
		c.mu.Unlock()
		return nil
	case transport.StatusConnecting:
		c.mu.Unlock()
		return &transport.ConnectError{Kind: transport.KindSSE, Err: transport.ErrConnectInProgress}
	}
	c.status = transport.StatusConnecting
	c.token = token
	c.closing = false
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.streamURL, nil)
	if err != nil {
		cancel()
		c.dialFailed()
		return &transport.ConnectError{Kind: transport.KindSSE, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		c.dialFailed()
		return &transport.ConnectError{Kind: transport.KindSSE, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		c.dialFailed()
		return &transport.ConnectError{
			Kind: transport.KindSSE,
			Err:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	c.mu.Lock()
	if c.closing {
		// Disconnect won the race during the dial
		c.mu.Unlock()
		cancel()
		resp.Body.Close()
		return &transport.ConnectError{Kind: transport.KindSSE, Err: errors.New("closed while connecting")}
	}
	c.gen++
	gen := c.gen
	c.streamCancel = cancel
	c.status = transport.StatusConnected
	c.mu.Unlock()

	c.log.Info("connected", zap.String("url", c.streamURL))

	go c.readLoop(resp.Body, cancel, gen)

	return nil
}

func (c *Client) dialFailed() {
	c.mu.Lock()
	if c.status == transport.StatusConnecting {
		c.status = transport.StatusError
	}
	c.mu.Unlock()
}

// readLoop parses the event-stream wire format: "event:" and "data:"
// lines terminated by a blank line.
func (c *Client) readLoop(body io.ReadCloser, cancel context.CancelFunc, gen uint64) {
	defer body.Close()

	var eventName string
	var data bytes.Buffer

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				c.handleMessage(eventName, data.Bytes())
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			// successive data: lines form one payload joined by newlines
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment line, keep-alive
		}
	}

	c.onClose(cancel, gen, scanner.Err())
}

func (c *Client) handleMessage(name string, data []byte) {
	switch name {
	case "heartbeat", "connected":
		return
	}

	ev, err := event.Parse(data)
	if err != nil {
		c.log.Warn("dropping malformed message", zap.Error(err))
		return
	}

	if ev.Type == event.TypeUnknown {
		metrics.UnknownEventsTotal.WithLabelValues(string(transport.KindSSE)).Inc()
		c.log.Debug("unrecognized event type", zap.ByteString("payload", data))
	}

	metrics.RecordEvent(string(ev.Type), string(transport.KindSSE))
	c.registry.Dispatch(ev)
}

func (c *Client) onClose(cancel context.CancelFunc, gen uint64, err error) {
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		// a newer stream owns the client state
		c.mu.Unlock()
		return
	}
	deliberate := c.closing
	token := c.token
	c.streamCancel = nil
	if deliberate {
		c.status = transport.StatusDisconnected
		c.mu.Unlock()
		return
	}
	c.status = transport.StatusError
	c.mu.Unlock()

	c.log.Warn("stream closed", zap.Error(err))
	go c.reconnect(token)
}

func (c *Client) reconnect(token string) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.retryCancel != nil {
		c.retryCancel()
	}
	c.retryCancel = cancel
	c.mu.Unlock()

	b := c.policy.NewBackOff()
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}

		metrics.RecordReconnectAttempt(string(transport.KindSSE))
		c.log.Info("reconnecting", zap.Int("attempt", attempt+1), zap.Int("max_attempts", c.policy.MaxAttempts))

		err := c.Connect(ctx, token)
		if err == nil {
			return
		}
		c.log.Warn("reconnect attempt failed", zap.Error(err))
	}

	c.log.Error("giving up", zap.Error(transport.ErrReconnectExhausted))
	c.mu.Lock()
	if c.status != transport.StatusConnected {
		c.status = transport.StatusDisconnected
	}
	c.mu.Unlock()
}

// Disconnect closes the stream and cancels any pending reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.gen++
	if c.retryCancel != nil {
		c.retryCancel()
		c.retryCancel = nil
	}
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
	c.status = transport.StatusDisconnected
	c.mu.Unlock()
}

// Subscribe registers a handler for one event type.
func (c *Client) Subscribe(t event.Type, h event.Handler) func() {
	return c.registry.Subscribe(t, h)
}

// Send posts msg to the companion send endpoint. When the stream is down
// or no send endpoint is configured the message is logged and dropped.
func (c *Client) Send(ctx context.Context, msg any) error {
	c.mu.Lock()
	connected := c.status == transport.StatusConnected
	token := c.token
	c.mu.Unlock()

	if !connected || c.sendURL == "" {
		c.log.Warn("send dropped", zap.Error(transport.ErrNotConnected))
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, c.sendURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("send rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Connected reports whether the stream is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == transport.StatusConnected
}

// Status reports the lifecycle state.
func (c *Client) Status() transport.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
