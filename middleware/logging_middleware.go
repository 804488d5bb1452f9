package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sse-rpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
				zap.String("status", Status(resp, err)),
			}
			if resp != nil {
				fields = append(fields, zap.String("id", string(resp.ID)))
				if resp.Error != nil {
					fields = append(fields, zap.Int("code", resp.Error.Code), zap.String("error", resp.Error.Message))
				}
			}
			if err != nil {
				logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Debug("rpc call", fields...)
			return resp, nil
		}
	}
}
