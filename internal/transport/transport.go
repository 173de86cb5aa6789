// Package transport defines the contract shared by the real-time transport
// clients and the pieces common to both: the subscriber registry, the
// reconnect policy, and the error taxonomy.
package transport

import (
	"context"

	"github.com/clarity-bi/transparency-bridge/internal/event"
)

// Kind identifies a transport implementation.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindSSE       Kind = "sse"
)

// Status is a transport's connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Transport owns exactly one real-time channel to the copilot backend and
// translates its native callbacks into typed events.
type Transport interface {
	// Kind reports which implementation this is.
	Kind() Kind

	// Connect dials the backend and resolves once the channel is open.
	// The token, when non-empty, is presented as a bearer credential.
	Connect(ctx context.Context, token string) error

	// Disconnect closes the channel and stops any pending reconnect.
	// Safe to call when not connected.
	Disconnect()

	// Subscribe registers a handler for one event type and returns an
	// unsubscribe func. Unsubscribing is O(1) and idempotent.
	Subscribe(t event.Type, h event.Handler) func()

	// Send serializes msg and forwards it on the channel. When the
	// transport is down the message is logged and dropped; the channel is
	// best-effort, not a delivery guarantee.
	Send(ctx context.Context, msg any) error

	// Connected reports whether the channel is currently open.
	Connected() bool

	// Status reports the current lifecycle state.
	Status() Status
}
