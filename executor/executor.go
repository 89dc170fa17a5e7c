// Package executor implements the remote executor process: it accepts
// coordinator connections and performs the operation named by each request's
// kind, one request at a time.
//
// Request pipeline:
//
//	Accept conn → handleConn (reads frames, replies on the same conn)
//	  → per request: Codec.Decode → Middleware Chain → operation (reflect.Call)
//	    → Codec.Encode → write reply (echoing the request ID)
//
// The executor is single-threaded by contract: a process-wide mutex serializes
// request handling across all connections, so the host object graph never sees
// two operations at once. Coordinators rely on this for the side-effect
// ordering of bulk calls.
package executor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"opbridge/codec"
	"opbridge/envelope"
	"opbridge/middleware"
	"opbridge/protocol"
	"opbridge/registry"
)

// Executor registers operations and serves coordinator connections.
type Executor struct {
	serviceMap  map[string]*service
	listener    net.Listener
	wg          sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown    atomic.Bool    // Suppresses the Accept error raised by Close
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	logger      *zap.Logger

	// processMu enforces one-request-at-a-time across every connection
	processMu sync.Mutex

	reg           registry.Registry // nil if not using discovery
	pool          string
	advertiseAddr string
}

// New creates an executor with no registered operations.
func New(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		serviceMap: make(map[string]*service),
		logger:     logger,
	}
}

// Register exposes a receiver's conforming methods as operations. A method
// `func (r *Recv) Name(args *Args, reply *Reply) error` becomes kind
// "Recv.Name".
func (e *Executor) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	e.serviceMap[svc.name] = svc
	return nil
}

// Use appends a middleware. Middlewares run in registration order around the
// operation handler.
func (e *Executor) Use(mw middleware.Middleware) {
	e.middlewares = append(e.middlewares, mw)
}

// Serve listens on address, optionally registers with the executor directory,
// and accepts coordinator connections until Shutdown.
//
// advertiseAddr is the address stored in the registry (e.g. "10.0.0.5:7420") —
// it differs from the listen address because ":7420" is not routable. Pass a
// nil registry to skip discovery.
func (e *Executor) Serve(network, address, advertiseAddr, pool string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	e.listener = listener

	// Build the middleware chain once at startup:
	// Chain(A, B, C)(handler) → A(B(C(handler)))
	e.handler = middleware.Chain(e.middlewares...)(e.operationHandler)

	e.advertiseAddr = advertiseAddr
	e.pool = pool
	if reg != nil {
		e.reg = reg
		if err := reg.Register(pool, registry.Instance{Addr: advertiseAddr}, 10); err != nil {
			listener.Close()
			return err
		}
	}

	e.logger.Info("executor listening",
		zap.String("addr", address), zap.String("pool", pool))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected
			if e.shutdown.Load() {
				return nil
			}
			return err
		}
		go e.handleConn(conn)
	}
}

// handleConn reads frames from one coordinator connection and answers them.
//
// Requests are handled inline, not in per-request goroutines: the executor
// processes one request at a time, and inline handling means reads and reply
// writes strictly alternate on this goroutine, so no write lock is needed.
// processMu extends the same guarantee across multiple connections.
func (e *Executor) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return // Connection closed or protocol error
		}

		// Heartbeats only prove the peer is alive; they are never answered
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		if err := e.handleRequest(header, body, conn); err != nil {
			e.logger.Warn("failed to answer request", zap.Error(err))
			return
		}
	}
}

// handleRequest decodes one request, runs it through the middleware chain under
// the process-wide serialization lock, and writes the correlated reply.
func (e *Executor) handleRequest(header *protocol.Header, body []byte, conn net.Conn) error {
	e.wg.Add(1)
	defer e.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	req := &envelope.Request{}
	var reply *envelope.Reply
	if err := c.Decode(body, req); err != nil {
		reply = envelope.ErrReply("", "undecodable request: "+err.Error())
	} else {
		e.processMu.Lock()
		reply = e.handler(context.Background(), req)
		e.processMu.Unlock()
	}

	out, err := c.Encode(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeReply,
		BodyLen:   uint32(len(out)),
	}
	return protocol.Encode(conn, &replyHeader, out)
}

// Shutdown deregisters from the directory, stops accepting connections, and
// waits for in-flight requests to drain.
func (e *Executor) Shutdown(timeout time.Duration) error {
	// Deregister FIRST so coordinators stop picking this endpoint
	if e.reg != nil {
		if err := e.reg.Deregister(e.pool, e.advertiseAddr); err != nil {
			e.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	// Set the flag BEFORE closing the listener so Serve returns nil
	e.shutdown.Store(true)
	if e.listener != nil {
		e.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight requests to finish")
	}
}
