// Package transport implements the client side of an SSE-correlated JSON-RPC exchange.
//
// Requests leave on one channel and their responses arrive on another. Each request
// gets a unique id and a slot in the PendingTable; a single StreamReader goroutine
// reads the event stream and resolves slots as responses arrive, in any order.
//
//	goroutine-1 ──Register(1-a)──POST──┐
//	goroutine-2 ──Register(2-a)──POST──┼──→ Server
//	goroutine-3 ──Register(3-a)──POST──┘
//
//	StreamReader:  ←── data: {"id":"2-a",...} → pending[2-a] ← response → goroutine-2 wakes up
package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is delivered when no response arrives within the per-call bound.
	ErrTimeout = errors.New("transport: request timed out")

	// ErrConnectionLost is delivered to calls in flight when the stream drops.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrCancelled is delivered on explicit disconnect or caller cancellation.
	ErrCancelled = errors.New("transport: request cancelled")

	// ErrStreamClosed is returned by StreamReader.Run when the stream ends.
	ErrStreamClosed = errors.New("transport: event stream closed")

	// ErrDuplicateID is returned when an id is registered twice.
	ErrDuplicateID = errors.New("transport: duplicate request id")
)

// SubmitError reports a failed side-channel submission. Either StatusCode
// is a non-success HTTP status or Err holds the network error.
type SubmitError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: submit failed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("transport: submit failed: http status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("transport: submit failed: http status %d", e.StatusCode)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
