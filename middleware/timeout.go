package middleware

import (
	"context"
	"time"

	"opbridge/envelope"
)

// Timeout bounds each request's handling time. The handler keeps running in its
// goroutine after expiry; the coordinator just gets the error reply — there is
// no mid-flight cancellation signal in the protocol.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Request) *envelope.Reply {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *envelope.Reply, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return envelope.ErrReply(req.ID, "request timed out")
			}
		}
	}
}
