// Package bridge is the coordinator-side entry point: one Invoke call fans out
// into an ordered sequence of single-target requests against the remote
// executor and comes back as one payload.
//
// Data flow: Invoke → normalize.Expand → dispatch loop → client.Call per item →
// channel → executor → correlated reply → outcome list → aggregate.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"opbridge/client"
	"opbridge/codec"
	"opbridge/dispatch"
	"opbridge/normalize"
	"opbridge/transport"
)

// Options control one Invoke call.
type Options struct {
	// BulkKeys declares which parameters may fan the call out. A key outside
	// this set always passes through unchanged, even if its value is an array.
	BulkKeys normalize.KeySet

	// Count forces the fan-out length. Zero means derive it from the longest
	// bulk array (minimum 1).
	Count int

	// FailFast stops the bulk loop at the first per-item failure. Default
	// (false) attempts every item and reports failures in the summary.
	FailFast bool

	// Timeout is the per-item call deadline. Zero uses client.DefaultTimeout.
	Timeout time.Duration
}

// Bridge ties the normalizer, dispatcher, and RPC client to one channel.
type Bridge struct {
	client     *client.Client
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// New builds a bridge over the given channel. The channel is injected so tests
// can substitute a fake that echoes or drops messages deterministically.
func New(ch transport.Channel, codecType codec.CodecType, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli := client.New(ch, codecType, logger)
	return &Bridge{
		client:     cli,
		dispatcher: dispatch.New(cli, logger),
		logger:     logger,
	}
}

// Invoke expands params into N scalar items, dispatches them in order, and
// aggregates the outcomes.
//
// N == 1 returns the bare result value, or the item's error directly. N > 1
// returns a *dispatch.Summary; per-item failures are data in the summary unless
// FailFast is set, in which case the first failure is also returned as the
// error next to the partial summary. Validation failures surface before
// anything is dispatched.
func (b *Bridge) Invoke(ctx context.Context, kind string, params map[string]any, opts Options) (any, error) {
	items, err := normalize.Expand(params, opts.BulkKeys, opts.Count)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("invoking",
		zap.String("kind", kind),
		zap.Int("fanOut", len(items)),
		zap.Bool("failFast", opts.FailFast))

	outcomes := b.dispatcher.Dispatch(ctx, kind, items, opts.FailFast, opts.Timeout)
	return dispatch.Aggregate(outcomes, len(items), opts.FailFast)
}

// Call issues one direct single-target request, bypassing bulk expansion.
func (b *Bridge) Call(ctx context.Context, kind string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	return b.client.Call(ctx, kind, params, timeout)
}

// Connected reports whether the channel currently has a connection.
func (b *Bridge) Connected() bool { return b.client.Connected() }

// Pending returns the number of in-flight requests, for diagnostics.
func (b *Bridge) Pending() int { return b.client.Pending() }

// OnConnect registers a connection-established callback for health reporting.
func (b *Bridge) OnConnect(fn func()) { b.client.OnConnect(fn) }

// OnDisconnect registers a connection-lost callback, fired after all pending
// calls have been failed.
func (b *Bridge) OnDisconnect(fn func(err error)) { b.client.OnDisconnect(fn) }
