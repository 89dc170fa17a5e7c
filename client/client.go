// Package client implements the correlated RPC client: one request per call,
// matched to its asynchronous reply by ID.
//
// Many calls may be outstanding concurrently, all multiplexed over the one
// channel connection. The executor may answer in any order; each caller is woken
// by exactly the reply whose ID matches its own request:
//
//	goroutine-1 ──Call(id=a)──┐
//	goroutine-2 ──Call(id=b)──┼──→ one channel ──→ executor
//	goroutine-3 ──Call(id=c)──┘
//
//	receive path:  ←── reply(id=b) → pending[b] → goroutine-2 wakes up
//
// There is no automatic retry and no queuing while disconnected: a Call issued
// with no current connection fails immediately, and a disconnect fails every
// in-flight call at once.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"opbridge/codec"
	"opbridge/envelope"
	berr "opbridge/errors"
	"opbridge/protocol"
	"opbridge/transport"
)

// DefaultTimeout applies when a Call is issued with a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// Client issues correlated requests over an injected transport channel.
type Client struct {
	channel   transport.Channel
	codecType codec.CodecType
	pending   *table
	logger    *zap.Logger

	onConnect    func()
	onDisconnect func(error)
}

// New wires a client to the given channel. It installs the channel's message
// and lifecycle handlers, so it must be created before the channel connects.
func New(ch transport.Channel, codecType codec.CodecType, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		channel:   ch,
		codecType: codecType,
		pending:   newTable(),
		logger:    logger,
	}
	ch.OnMessage(c.handleFrame)
	ch.OnConnect(c.handleConnect)
	ch.OnDisconnect(c.handleDisconnect)
	return c
}

// OnConnect registers a callback fired after each successful connection,
// for health or readiness reporting.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect registers a callback fired once per connection loss, after all
// pending calls have been failed.
func (c *Client) OnDisconnect(fn func(err error)) { c.onDisconnect = fn }

// Connected reports whether the underlying channel has a current connection.
func (c *Client) Connected() bool { return c.channel.Connected() }

// Pending returns the number of in-flight calls.
func (c *Client) Pending() int { return c.pending.size() }

// Call sends one request and blocks until its correlated reply, the timeout,
// a disconnect, or ctx cancellation — whichever comes first. Other concurrent
// calls are unaffected by this call's outcome.
func (c *Client) Call(ctx context.Context, kind string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !c.channel.Connected() {
		return nil, berr.ErrNotConnected
	}

	req, err := envelope.NewRequest(kind, params)
	if err != nil {
		return nil, berr.New("ENCODE_FAILED", "failed to encode parameters", err)
	}

	cdc := codec.GetCodec(c.codecType)
	body, err := cdc.Encode(req)
	if err != nil {
		return nil, berr.New("ENCODE_FAILED", "failed to encode request", err)
	}

	// Register the pending call BEFORE sending, so a fast reply cannot race
	// past an unregistered ID.
	pc := c.pending.add(req.ID, time.Now().Add(timeout))

	err = c.channel.Send(transport.Frame{
		CodecType: byte(c.codecType),
		MsgType:   protocol.MsgTypeRequest,
		Body:      body,
	})
	if err != nil {
		c.pending.remove(req.ID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-pc.done:
		return c.settle(kind, out)
	case <-timer.C:
		if !c.pending.remove(req.ID) {
			// Lost the race: the reply was resolved as the timer fired.
			return c.settle(kind, <-pc.done)
		}
		return nil, fmt.Errorf("%w: %s after %s", berr.ErrTimeout, kind, timeout)
	case <-ctx.Done():
		if !c.pending.remove(req.ID) {
			return c.settle(kind, <-pc.done)
		}
		return nil, ctx.Err()
	}
}

// settle converts a resolved outcome into the caller's result or error.
func (c *Client) settle(kind string, out outcome) (json.RawMessage, error) {
	if out.err != nil {
		return nil, out.err
	}
	if !out.reply.OK {
		return nil, &berr.RemoteError{Kind: kind, Message: out.reply.Error}
	}
	return out.reply.Result, nil
}

// handleFrame runs on the channel's single receive goroutine. It decodes reply
// frames and routes each to the caller whose ID matches. Replies for retired
// IDs (timed out, cancelled) are discarded silently.
func (c *Client) handleFrame(f transport.Frame) {
	if f.MsgType != protocol.MsgTypeReply {
		return
	}

	reply := &envelope.Reply{}
	cdc := codec.GetCodec(codec.CodecType(f.CodecType))
	if err := cdc.Decode(f.Body, reply); err != nil {
		c.logger.Warn("dropping undecodable reply", zap.Error(err))
		return
	}

	if !c.pending.resolve(reply) {
		c.logger.Debug("discarding late reply", zap.String("id", reply.ID))
	}
}

func (c *Client) handleConnect() {
	if c.onConnect != nil {
		c.onConnect()
	}
}

// handleDisconnect rejects every pending call en masse. Calls in flight before
// the disconnect are never retried automatically — requests may not be
// idempotent, so retry is the caller's decision.
func (c *Client) handleDisconnect(cause error) {
	n := c.pending.size()
	c.pending.failAll(berr.ErrConnectionLost)
	if n > 0 {
		c.logger.Warn("failed pending calls on disconnect",
			zap.Int("count", n), zap.Error(cause))
	}
	if c.onDisconnect != nil {
		c.onDisconnect(cause)
	}
}
