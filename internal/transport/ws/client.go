// Package ws implements the WebSocket transport client.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/event"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
	"github.com/clarity-bi/transparency-bridge/pkg/metrics"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

// Client is a WebSocket transport. One Client owns at most one open
// connection at a time; an unexpected close triggers reconnection with
// exponential backoff up to the policy's attempt ceiling.
type Client struct {
	url      string
	policy   transport.RetryPolicy
	log      *logger.Logger
	registry *transport.Registry

	mu          sync.Mutex
	conn        *websocket.Conn
	status      transport.Status
	token       string
	closing     bool
	retryCancel context.CancelFunc

	// gen identifies the current connection. Pumps carry the gen they
	// were started with, so a stale connection closing cannot clobber
	// the state of its replacement.
	gen uint64
}

// New creates a WebSocket client for the given upstream URL.
func New(url string, policy transport.RetryPolicy, log *logger.Logger) *Client {
	return &Client{
		url:      url,
		policy:   policy,
		log:      log.WithTransport(string(transport.KindWebSocket)),
		registry: transport.NewRegistry(),
		status:   transport.StatusDisconnected,
	}
}

// Kind reports the transport kind.
func (c *Client) Kind() transport.Kind { return transport.KindWebSocket }

// Connect dials the upstream and starts the read and ping loops. At most
// one dial is in flight at a time: a Connect racing an ongoing one
// returns ErrConnectInProgress instead of opening a second connection.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	switch c.status {
	case transport.StatusConnected:
		c.mu.Unlock()
		return nil
	case transport.StatusConnecting:
		c.mu.Unlock()
		return &transport.ConnectError{Kind: transport.KindWebSocket, Err: transport.ErrConnectInProgress}
	}
	c.status = transport.StatusConnecting
	c.token = token
	c.closing = false
	c.mu.Unlock()

	conn, err := c.dial(ctx, token)
	if err != nil {
		c.mu.Lock()
		if c.status == transport.StatusConnecting {
			c.status = transport.StatusError
		}
		c.mu.Unlock()
		return &transport.ConnectError{Kind: transport.KindWebSocket, Err: err}
	}

	c.mu.Lock()
	if c.closing {
		// Disconnect won the race during the dial
		c.mu.Unlock()
		conn.Close()
		return &transport.ConnectError{Kind: transport.KindWebSocket, Err: errors.New("closed while connecting")}
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.status = transport.StatusConnected
	c.mu.Unlock()

	c.log.Info("connected", zap.String("url", c.url))

	go c.readPump(conn, gen)
	go c.pingLoop(conn)

	return nil
}

func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return conn, nil
}

func (c *Client) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onClose(conn, gen, err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	ev, err := event.Parse(data)
	if err != nil {
		c.log.Warn("dropping malformed message", zap.Error(err))
		return
	}

	if ev.Type == event.TypeUnknown {
		metrics.UnknownEventsTotal.WithLabelValues(string(transport.KindWebSocket)).Inc()
		c.log.Debug("unrecognized event type", zap.ByteString("payload", data))
	}

	metrics.RecordEvent(string(ev.Type), string(transport.KindWebSocket))
	c.registry.Dispatch(ev)
}

// pingLoop keeps the connection alive. WriteControl is safe to call
// concurrently with WriteMessage.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if c.currentConn() != conn {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) onClose(conn *websocket.Conn, gen uint64, err error) {
	conn.Close()

	c.mu.Lock()
	if gen != c.gen {
		// a newer connection owns the client state
		c.mu.Unlock()
		return
	}
	if c.conn == conn {
		c.conn = nil
	}
	deliberate := c.closing
	token := c.token
	if deliberate {
		c.status = transport.StatusDisconnected
		c.mu.Unlock()
		return
	}
	c.status = transport.StatusError
	c.mu.Unlock()

	c.log.Warn("connection lost", zap.Error(err))
	go c.reconnect(token)
}

// reconnect retries the connection with exponential backoff. Exhausting
// the attempt ceiling leaves the client terminally disconnected.
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

		metrics.RecordReconnectAttempt(string(transport.KindWebSocket))
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

// Disconnect closes the connection and cancels any pending reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.gen++
	if c.retryCancel != nil {
		c.retryCancel()
		c.retryCancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.status = transport.StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

// Subscribe registers a handler for one event type.
func (c *Client) Subscribe(t event.Type, h event.Handler) func() {
	return c.registry.Subscribe(t, h)
}

// Send forwards msg as a JSON text frame. When the connection is down the
// message is logged and dropped.
func (c *Client) Send(ctx context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.status != transport.StatusConnected {
		c.log.Warn("send dropped", zap.Error(transport.ErrNotConnected))
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Connected reports whether the channel is open.
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
