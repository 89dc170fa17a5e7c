package transport

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Redialer keeps a Channel connected by re-dialing at a fixed interval after
// each connection loss.
//
// Reconnection restores Send for new calls only: anything pending at the moment
// of disconnect has already been failed by the disconnect event and is never
// replayed, because requests may not be idempotent. Callers that want automatic
// reconnection start a Redialer; callers that prefer to decide per-loss simply
// call Connect themselves from their OnDisconnect handler.
type Redialer struct {
	channel  Channel
	interval time.Duration
	logger   *zap.Logger
}

// NewRedialer wraps ch with a reconnect loop. interval <= 0 defaults to 5s.
func NewRedialer(ch Channel, interval time.Duration, logger *zap.Logger) *Redialer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redialer{channel: ch, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, dialing whenever the channel is down and
// sleeping between attempts. Typically started as `go redialer.Run(ctx)` right
// after constructing the channel.
func (r *Redialer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if !r.channel.Connected() {
			if err := r.channel.Connect(ctx); err != nil {
				r.logger.Warn("reconnect attempt failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
