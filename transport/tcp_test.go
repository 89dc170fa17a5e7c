package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"opbridge/codec"
	"opbridge/envelope"
	berr "opbridge/errors"
	"opbridge/protocol"
)

// startEchoServer accepts connections and answers every request frame with an
// OK reply carrying the request's params back.
func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var conns []net.Conn

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					header, body, err := protocol.Decode(conn)
					if err != nil {
						return
					}
					if header.MsgType != protocol.MsgTypeRequest {
						continue
					}
					c := codec.GetCodec(codec.CodecType(header.CodecType))
					req := &envelope.Request{}
					if err := c.Decode(body, req); err != nil {
						return
					}
					out, _ := c.Encode(envelope.OKReply(req.ID, req.Params))
					replyHeader := protocol.Header{
						CodecType: header.CodecType,
						MsgType:   protocol.MsgTypeReply,
						BodyLen:   uint32(len(out)),
					}
					if err := protocol.Encode(conn, &replyHeader, out); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	// stop kills the whole server side: no new accepts, and every accepted
	// connection is closed so clients observe the peer going away.
	return ln.Addr().String(), func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	}
}

func encodeRequest(t *testing.T, req *envelope.Request) Frame {
	t.Helper()
	body, err := codec.GetCodec(codec.CodecTypeJSON).Encode(req)
	if err != nil {
		t.Fatal(err)
	}
	return Frame{
		CodecType: byte(codec.CodecTypeJSON),
		MsgType:   protocol.MsgTypeRequest,
		Body:      body,
	}
}

func TestTCPChannelRoundTrip(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ch := NewTCPChannel(addr, nil)
	replies := make(chan Frame, 1)
	ch.OnMessage(func(f Frame) { replies <- f })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	req := &envelope.Request{ID: "r1", Kind: "Op.Echo", Params: []byte(`{"x":1}`)}
	if err := ch.Send(encodeRequest(t, req)); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-replies:
		reply := &envelope.Reply{}
		if err := codec.GetCodec(codec.CodecType(f.CodecType)).Decode(f.Body, reply); err != nil {
			t.Fatal(err)
		}
		if reply.ID != "r1" || !reply.OK {
			t.Fatalf("unexpected reply: %+v", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply within 2s")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ch := NewTCPChannel("127.0.0.1:1", nil)
	err := ch.Send(Frame{MsgType: protocol.MsgTypeRequest})
	if !errors.Is(err, berr.ErrNotConnected) {
		t.Fatalf("expect not-connected error, got %v", err)
	}
}

func TestDisconnectFiresExactlyOnce(t *testing.T) {
	addr, stop := startEchoServer(t)

	ch := NewTCPChannel(addr, nil)
	ch.OnMessage(func(Frame) {})
	var disconnects atomic.Int32
	ch.OnDisconnect(func(error) { disconnects.Add(1) })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Kill the server side; the recvLoop notices the broken connection
	stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ch.Connected() {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.Connected() {
		t.Fatal("channel still reports connected after server went away")
	}

	// Give any duplicate event a chance to fire, then count
	time.Sleep(50 * time.Millisecond)
	if n := disconnects.Load(); n != 1 {
		t.Fatalf("disconnect fired %d times, expect exactly 1", n)
	}
}

func TestReconnectSupersedes(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ch := NewTCPChannel(addr, nil)
	replies := make(chan Frame, 2)
	ch.OnMessage(func(f Frame) { replies <- f })
	var disconnects atomic.Int32
	ch.OnDisconnect(func(error) { disconnects.Add(1) })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// A second Connect supersedes the first connection silently
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	time.Sleep(50 * time.Millisecond)
	if n := disconnects.Load(); n != 0 {
		t.Fatalf("superseded connection fired %d disconnect events", n)
	}

	// The new connection is fully usable
	req := &envelope.Request{ID: "r2", Kind: "Op.Echo", Params: []byte(`{}`)}
	if err := ch.Send(encodeRequest(t, req)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-replies:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply on superseding connection")
	}
}

func TestDeliberateCloseReportsClosed(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ch := NewTCPChannel(addr, nil)
	ch.OnMessage(func(Frame) {})
	got := make(chan error, 1)
	ch.OnDisconnect(func(err error) { got <- err })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-got:
		if !errors.Is(err, berr.ErrClosed) {
			t.Fatalf("expect ErrClosed on deliberate close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event after Close")
	}
}
