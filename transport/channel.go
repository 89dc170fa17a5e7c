// Package transport implements the persistent duplex message channel between the
// coordinator and one executor process.
//
// A Channel delivers opaque framed messages in order and reports connect and
// disconnect events. Exactly one connection is current at a time: a new Connect
// supersedes and invalidates the previous connection. Disconnect fires exactly
// once per connection loss, not once per failed send. The channel never replays
// messages sent before a disconnect — requests may not be idempotent, so retry is
// a caller decision.
//
// Two implementations are provided: TCPChannel (custom binary framing over TCP)
// and WSChannel (the same frames carried in websocket binary messages).
package transport

import (
	"context"

	"opbridge/protocol"
)

// Frame is one self-contained message unit: a codec-encoded envelope plus the
// header metadata needed to decode it.
type Frame struct {
	CodecType byte
	MsgType   protocol.MsgType
	Body      []byte
}

// MessageHandler receives every non-heartbeat frame read from the connection.
// It is invoked from the channel's single receive goroutine.
type MessageHandler func(Frame)

// Channel is the duplex pipe contract. Implementations must be safe for
// concurrent Send from multiple goroutines.
type Channel interface {
	// Connect establishes a connection, superseding any previous one.
	Connect(ctx context.Context) error

	// Send writes one frame. Fails with errors.ErrNotConnected when no
	// connection is current.
	Send(f Frame) error

	// Close tears down the current connection without reconnecting.
	Close() error

	// Connected reports whether a connection is current.
	Connected() bool

	// OnMessage registers the handler for incoming frames. Must be called
	// before Connect.
	OnMessage(h MessageHandler)

	// OnConnect registers a callback fired after each successful Connect.
	OnConnect(fn func())

	// OnDisconnect registers a callback fired exactly once per connection
	// loss, with the error that broke the connection.
	OnDisconnect(fn func(err error))
}
