package transport

import (
	"bytes"
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	berr "opbridge/errors"
	"opbridge/protocol"
)

// WSChannel carries protocol frames inside websocket binary messages.
//
// Useful when the executor sits behind an HTTP ingress that cannot pass raw TCP.
// Each websocket message holds exactly one frame (header + body), so the framing
// logic is identical to TCPChannel; the websocket layer replaces TCP's byte
// stream with a message stream. Websocket ping/pong replaces the heartbeat
// frames used on raw TCP.
type WSChannel struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex // guards conn, gen, closing
	conn    *websocket.Conn
	gen     uint64
	closing bool

	writeMu sync.Mutex // gorilla conns allow one concurrent writer

	onMessage    MessageHandler
	onConnect    func()
	onDisconnect func(error)
}

// NewWSChannel creates a channel targeting the given websocket URL
// (e.g. "ws://executor:8080/bridge").
func NewWSChannel(url string, logger *zap.Logger) *WSChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSChannel{url: url, logger: logger}
}

func (c *WSChannel) OnMessage(h MessageHandler) { c.onMessage = h }
func (c *WSChannel) OnConnect(fn func()) { c.onConnect = fn }
func (c *WSChannel) OnDisconnect(fn func(err error)) { c.onDisconnect = fn }

// Connect dials the executor's websocket endpoint, superseding any previous
// connection.
func (c *WSChannel) Connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return berr.New("DIAL_FAILED", "failed to dial executor websocket", err)
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

	go c.readLoop(conn, gen)

	c.logger.Info("channel connected", zap.String("url", c.url))
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one frame as a single websocket binary message.
func (c *WSChannel) Send(f Frame) error {
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
	var buf bytes.Buffer
	if err := protocol.Encode(&buf, &header, f.Body); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

// Close tears down the current connection deliberately.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.closing = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *WSChannel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, gen, err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		header, body, err := protocol.Decode(bytes.NewReader(data))
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
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

func (c *WSChannel) lost(conn *websocket.Conn, gen uint64, err error) {
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
	c.logger.Warn("channel disconnected", zap.String("url", c.url), zap.Error(err))
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}
