// Package dispatch issues normalized items through the RPC client one at a time
// and folds the per-item outcomes into a single payload.
//
// Dispatch is strictly sequential: item i+1 is not sent until item i has
// resolved. The executor processes one request at a time, and later items in a
// bulk call may depend on side effects of earlier ones (item 0 creates an
// object that item 3 references), so array position is a side-effect ordering
// contract.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Caller is the single-request interface the dispatcher drives.
// *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, kind string, params map[string]any, timeout time.Duration) (json.RawMessage, error)
}

// Outcome records what happened to one item. The ordered outcome list is
// immutable once the dispatch loop completes.
type Outcome struct {
	Index   int
	Success bool
	Value   json.RawMessage
	Err     error
}

// MarshalJSON emits the wire shape {index, success, value|error}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type wire struct {
		Index   int             `json:"index"`
		Success bool            `json:"success"`
		Value   json.RawMessage `json:"value,omitempty"`
		Error   string          `json:"error,omitempty"`
	}
	w := wire{Index: o.Index, Success: o.Success, Value: o.Value}
	if o.Err != nil {
		w.Error = o.Err.Error()
	}
	return json.Marshal(w)
}

// Dispatcher runs the per-item loop for one bulk call.
type Dispatcher struct {
	caller Caller
	logger *zap.Logger
}

// New creates a dispatcher driving the given caller.
func New(caller Caller, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{caller: caller, logger: logger}
}

// Dispatch sends each item in index order and records its outcome.
//
// With failFast, the loop stops at the first failure: the failed index is the
// last outcome and the remaining items are never attempted (and never appear in
// the list). Otherwise failures are recorded alongside successes and every item
// is attempted. Context cancellation also stops the loop — items not yet sent
// stay unattempted.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, items []map[string]any, failFast bool, timeout time.Duration) []Outcome {
	outcomes := make([]Outcome, 0, len(items))
	for i, item := range items {
		if i > 0 && ctx.Err() != nil {
			break
		}

		value, err := d.caller.Call(ctx, kind, item, timeout)
		if err != nil {
			d.logger.Debug("item failed",
				zap.String("kind", kind), zap.Int("index", i), zap.Error(err))
			outcomes = append(outcomes, Outcome{Index: i, Err: err})
			if failFast {
				break
			}
			continue
		}
		outcomes = append(outcomes, Outcome{Index: i, Success: true, Value: value})
	}
	return outcomes
}
