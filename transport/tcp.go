package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	berr "opbridge/errors"
	"opbridge/protocol"
)

const defaultHeartbeatInterval = 30 * time.Second

// TCPChannel carries protocol frames over a single TCP connection.
//
// One background goroutine (recvLoop) reads frames sequentially — TCP is a byte
// stream, so frame boundaries can only be parsed by a single reader — and hands
// every request/reply frame to the registered MessageHandler. A write mutex
// serializes Send so that concurrent callers never interleave header and body
// bytes from different frames.
//
// Each Connect bumps a generation counter. The recvLoop and heartbeat loop of a
// superseded connection observe the stale generation and exit without firing a
// disconnect event; only the loss of the current connection fires one.
type TCPChannel struct {
	addr      string
	heartbeat time.Duration
	logger    *zap.Logger

	mu     sync.Mutex // guards conn, gen, closing
	conn   net.Conn
	gen    uint64
	closing bool

	sending sync.Mutex // serializes whole-frame writes

	onMessage    MessageHandler
	onConnect    func()
	onDisconnect func(error)
}

// NewTCPChannel creates a channel targeting the given executor address.
// The channel is not connected until Connect is called.
func NewTCPChannel(addr string, logger *zap.Logger) *TCPChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPChannel{
		addr:      addr,
		heartbeat: defaultHeartbeatInterval,
		logger:    logger,
	}
}

// SetHeartbeatInterval overrides the keep-alive probe interval.
// Must be called before Connect.
func (c *TCPChannel) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		c.heartbeat = d
	}
}

func (c *TCPChannel) OnMessage(h MessageHandler) { c.onMessage = h }
func (c *TCPChannel) OnConnect(fn func()) { c.onConnect = fn }
func (c *TCPChannel) OnDisconnect(fn func(err error)) { c.onDisconnect = fn }

// Connect dials the executor. Any previous connection is superseded: its
// goroutines exit silently and its socket is closed without a disconnect event.
func (c *TCPChannel) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return berr.New("DIAL_FAILED", "failed to dial executor", err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.gen++
	gen := c.gen
	c.closing = false
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go c.recvLoop(conn, gen)
	go c.heartbeatLoop(conn, gen)

	c.logger.Info("channel connected", zap.String("addr", c.addr))
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Connected reports whether a connection is current.
func (c *TCPChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one frame to the current connection.
//
// The sending mutex ensures the entire frame (header + body) is written
// atomically; without it, concurrent writes would interleave bytes from
// different frames and corrupt the stream.
func (c *TCPChannel) Send(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return berr.ErrNotConnected
	}

	header := protocol.Header{
		CodecType: f.CodecType,
		MsgType:   f.MsgType,
		BodyLen:   uint32(len(f.Body)),
	}

	c.sending.Lock()
	defer c.sending.Unlock()
	return protocol.Encode(conn, &header, f.Body)
}

// Close tears down the current connection deliberately. Pending callers are
// drained through the disconnect event with ErrClosed.
func (c *TCPChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.closing = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// recvLoop reads frames from one connection until it breaks. Runs in its own
// goroutine; there is exactly one recvLoop per live connection.
func (c *TCPChannel) recvLoop(conn net.Conn, gen uint64) {
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			c.lost(conn, gen, err)
			return
		}

		// Heartbeats only keep the connection alive
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		if c.onMessage != nil {
			c.onMessage(Frame{
				CodecType: header.CodecType,
				MsgType:   header.MsgType,
				Body:      body,
			})
		}
	}
}

// lost records a broken connection and fires the disconnect event, but only if
// this connection is still the current one — a superseded connection's death is
// not a channel disconnect.
func (c *TCPChannel) lost(conn net.Conn, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closing := c.closing
	c.mu.Unlock()

	conn.Close()
	if closing {
		err = berr.ErrClosed
	}
	c.logger.Warn("channel disconnected", zap.String("addr", c.addr), zap.Error(err))
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// heartbeatLoop sends periodic heartbeat frames so the executor can detect dead
// peers. Heartbeats have no body and share the sending lock with Send.
func (c *TCPChannel) heartbeatLoop(conn net.Conn, gen uint64) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		current := gen == c.gen && c.conn != nil
		c.mu.Unlock()
		if !current {
			return
		}

		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat, BodyLen: 0}
		c.sending.Lock()
		err := protocol.Encode(conn, header, nil)
		c.sending.Unlock()
		if err != nil {
			return // recvLoop notices the break and fires the disconnect
		}
	}
}
