package middleware

import (
	"errors"
	"unicode/utf8"
)

const maxIDLength = 128

// ValidateTraceID validates an upstream trace identifier. Upstream trace
// ids are opaque strings, not necessarily UUIDs.
func ValidateTraceID(id string) error {
	if len(id) == 0 {
		return errors.New("trace ID cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New("trace ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("trace ID must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session identifier.
func ValidateSessionID(id string) error {
	if len(id) == 0 {
		return errors.New("session ID cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New("session ID exceeds maximum length")
	}
	return nil
}
