package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"opbridge/envelope"
)

// Logging records each request's kind, correlation ID, duration, and outcome.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Request) *envelope.Reply {
			start := time.Now()
			reply := next(ctx, req)
			fields := []zap.Field{
				zap.String("kind", req.Kind),
				zap.String("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if reply.Error != "" {
				logger.Warn("request failed", append(fields, zap.String("error", reply.Error))...)
			} else {
				logger.Info("request handled", fields...)
			}
			return reply
		}
	}
}
