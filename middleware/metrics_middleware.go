package middleware

import (
	"context"
	"time"

	"sse-rpc/message"
	"sse-rpc/metrics"
)

func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			m.ObserveCall(req.Method, Status(resp, err), time.Since(start))
			return resp, err
		}
	}
}
