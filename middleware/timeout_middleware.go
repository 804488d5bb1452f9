package middleware

import (
	"context"
	"time"

	"sse-rpc/message"
)

// TimeOutMiddleware bounds the whole call, submission included. The
// transport reports an expired deadline as transport.ErrTimeout.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
