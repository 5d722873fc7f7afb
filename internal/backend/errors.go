// ABOUTME: Error taxonomy for backend sessions
// ABOUTME: Sentinels for timeout and connection failure, typed errors for reported and closed

package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no terminal frame arrived before the session deadline.
	ErrTimeout = errors.New("backend response timeout")

	// ErrConnection means the WebSocket could not be established or written to.
	ErrConnection = errors.New("backend connection failed")
)

// BackendError is an error reported by the backend in an error frame.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}

// ClosedError means the backend closed the connection before any reply text arrived.
type ClosedError struct {
	Code   int
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("websocket closed unexpectedly: %d %s", e.Code, e.Reason)
}
