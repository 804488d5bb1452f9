// Package middleware wraps outgoing RPC calls. A chain sits between the
// public call surface and the transport round trip, so cross-cutting concerns
// (logging, deadlines, throttling, metrics) never touch correlation logic.
package middleware

import (
	"context"
	"errors"

	"sse-rpc/message"
	"sse-rpc/transport"
)

// HandlerFunc performs one call. The request id is assigned by the innermost
// handler, so a middleware that re-invokes next gets a fresh id each time.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Status names the outcome of a call for logs and metrics.
func Status(resp *message.Response, err error) string {
	var submitErr *transport.SubmitError
	switch {
	case err == nil && resp != nil && resp.Error != nil:
		return "rpc_error"
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, transport.ErrCancelled):
		return "cancelled"
	case errors.As(err, &submitErr):
		return "submit_error"
	default:
		return "error"
	}
}
