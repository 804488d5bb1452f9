package client

import (
	"errors"

	"sse-rpc/transport"
)

var (
	// ErrNotConnected is returned by calls made outside Ready. Nothing is sent.
	ErrNotConnected = errors.New("client: not connected")

	ErrAlreadyConnected = errors.New("client: already connected")
	ErrClosed           = errors.New("client: closed")

	// ErrConnectTimeout is returned when no endpoint is announced in time.
	ErrConnectTimeout = errors.New("client: timed out waiting for endpoint announcement")

	// ErrReconnectExhausted ends a session whose stream could not be restored.
	// It is surfaced through StateEvent.Err.
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")
)

// Call outcomes, re-exported so callers only need this package.
var (
	ErrTimeout        = transport.ErrTimeout
	ErrConnectionLost = transport.ErrConnectionLost
	ErrCancelled      = transport.ErrCancelled
)

// SubmitError is a failed side-channel submission.
type SubmitError = transport.SubmitError
