package middleware

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"sse-rpc/message"
)

var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware throttles outgoing calls with a token bucket. Calls wait
// for a token; one that cannot get a token before its deadline fails with
// ErrRateLimited without touching the network.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
			}
			return next(ctx, req)
		}
	}
}
