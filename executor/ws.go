package executor

import (
	"bytes"
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"opbridge/codec"
	"opbridge/envelope"
	"opbridge/middleware"
	"opbridge/protocol"
)

// WSHandler returns an http.Handler serving the bridge protocol over
// websocket, for deployments where coordinators cannot reach the executor over
// raw TCP. Each websocket binary message carries exactly one frame; request
// handling is serialized by the same process-wide lock as the TCP path.
func (e *Executor) WSHandler() http.Handler {
	if e.handler == nil {
		e.handler = middleware.Chain(e.middlewares...)(e.operationHandler)
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			e.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		e.logger.Info("coordinator connected over websocket",
			zap.String("remote", r.RemoteAddr))
		e.serveWS(conn)
	})
}

func (e *Executor) serveWS(conn *websocket.Conn) {
	defer conn.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		header, body, err := protocol.Decode(bytes.NewReader(data))
		if err != nil {
			e.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		e.wg.Add(1)
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
		e.wg.Done()

		out, err := c.Encode(reply)
		if err != nil {
			e.logger.Warn("failed to encode reply", zap.Error(err))
			return
		}
		var buf bytes.Buffer
		replyHeader := protocol.Header{
			CodecType: header.CodecType,
			MsgType:   protocol.MsgTypeReply,
			BodyLen:   uint32(len(out)),
		}
		if err := protocol.Encode(&buf, &replyHeader, out); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			return
		}
	}
}
