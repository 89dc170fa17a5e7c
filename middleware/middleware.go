// Package middleware provides composable wrappers around the executor's
// request handler: logging, admission control, per-request timeouts, and an
// opt-in retry for callers that know their operations are idempotent.
package middleware

import (
	"context"

	"opbridge/envelope"
)

// HandlerFunc processes one request envelope and returns its reply.
type HandlerFunc func(ctx context.Context, req *envelope.Request) *envelope.Reply

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Chain(A, B, C)(h) == A(B(C(h))):
// A sees the request first and the reply last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
