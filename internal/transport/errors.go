package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is logged when Send is attempted while the channel
	// is down. The message is dropped, not queued.
	ErrNotConnected = errors.New("transport not connected")

	// ErrNoActiveConnection means neither transport is connected.
	ErrNoActiveConnection = errors.New("no active connection")

	// ErrConnectInProgress means another Connect is already dialing.
	// Callers retry later instead of racing a second dial.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrReconnectExhausted means the reconnect attempt ceiling was hit
	// and automatic recovery has stopped.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ConnectError wraps a failed connect attempt with the transport that
// produced it.
type ConnectError struct {
	Kind Kind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s connect failed: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
