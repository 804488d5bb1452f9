package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sse-rpc/message"
	"sse-rpc/transport"
)

// RetryMiddleware re-issues calls that timed out, with exponential backoff.
// It is never installed by default: submission is at-least-once, so only
// idempotent methods should be retried, and that is the caller's decision.
// Each attempt goes out under a new request id.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !errors.Is(err, transport.ErrTimeout) {
					return resp, err
				}
				delay := baseDelay * time.Duration(1<<i)
				logger.Info("retrying rpc call",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.Duration("delay", delay),
					zap.Error(err))

				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return resp, err
				case <-timer.C:
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}
