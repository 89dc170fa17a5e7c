package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"opbridge/envelope"
)

// RateLimit rejects requests beyond a token-bucket budget of r per second with
// the given burst.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Request) *envelope.Reply {
			if !limiter.Allow() {
				return envelope.ErrReply(req.ID, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
