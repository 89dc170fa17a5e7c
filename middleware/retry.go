package middleware

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"opbridge/envelope"
)

// Retry re-runs a handler on timeout or connection errors with exponential
// backoff.
//
// The bridge core never retries on its own — requests are not assumed
// idempotent. This wrapper is for callers who know a specific operation kind is
// safe to repeat.
func Retry(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Request) *envelope.Reply {
			reply := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if reply.Error == "" {
					return reply
				}
				if !retryable(reply.Error) {
					return reply
				}
				logger.Info("retrying request",
					zap.String("kind", req.Kind),
					zap.Int("attempt", i+1),
					zap.String("error", reply.Error))
				time.Sleep(baseDelay * time.Duration(1<<i)) // Exponential backoff
				reply = next(ctx, req)
			}
			return reply
		}
	}
}

func retryable(errMsg string) bool {
	return strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection lost")
}
