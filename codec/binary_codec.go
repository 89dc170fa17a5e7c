package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"opbridge/envelope"
)

// BinaryCodec is a compact length-prefixed encoding for envelopes.
//
// Request layout:  idLen(2) id  kindLen(2) kind  paramsLen(4) params
// Reply layout:    idLen(2) id  ok(1)  resultLen(4) result  errLen(2) err
//
// All integers are big-endian. The frame header's message type tells the
// receiver which layout to decode, so the body itself carries no type tag.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *envelope.Request:
		return encodeRequest(msg), nil
	case *envelope.Reply:
		return encodeReply(msg), nil
	default:
		return nil, errors.New("BinaryCodec: v must be *envelope.Request or *envelope.Reply")
	}
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch msg := v.(type) {
	case *envelope.Request:
		return decodeRequest(data, msg)
	case *envelope.Reply:
		return decodeReply(data, msg)
	default:
		return errors.New("BinaryCodec: v must be *envelope.Request or *envelope.Reply")
	}
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func encodeRequest(msg *envelope.Request) []byte {
	total := 2 + len(msg.ID) + 2 + len(msg.Kind) + 4 + len(msg.Params)
	buf := make([]byte, total)

	offset := putString16(buf, 0, msg.ID)
	offset = putString16(buf, offset, msg.Kind)
	putBytes32(buf, offset, msg.Params)
	return buf
}

func decodeRequest(data []byte, msg *envelope.Request) error {
	id, offset, err := readString16(data, 0)
	if err != nil {
		return err
	}
	kind, offset, err := readString16(data, offset)
	if err != nil {
		return err
	}
	params, _, err := readBytes32(data, offset)
	if err != nil {
		return err
	}
	msg.ID = id
	msg.Kind = kind
	msg.Params = params
	return nil
}

func encodeReply(msg *envelope.Reply) []byte {
	total := 2 + len(msg.ID) + 1 + 4 + len(msg.Result) + 2 + len(msg.Error)
	buf := make([]byte, total)

	offset := putString16(buf, 0, msg.ID)
	if msg.OK {
		buf[offset] = 1
	}
	offset++
	offset = putBytes32(buf, offset, msg.Result)
	putString16(buf, offset, msg.Error)
	return buf
}

func decodeReply(data []byte, msg *envelope.Reply) error {
	id, offset, err := readString16(data, 0)
	if err != nil {
		return err
	}
	if offset >= len(data) {
		return fmt.Errorf("BinaryCodec: truncated reply at offset %d", offset)
	}
	ok := data[offset] == 1
	offset++
	result, offset, err := readBytes32(data, offset)
	if err != nil {
		return err
	}
	errMsg, _, err := readString16(data, offset)
	if err != nil {
		return err
	}
	msg.ID = id
	msg.OK = ok
	msg.Result = result
	msg.Error = errMsg
	return nil
}

func putString16(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(s)))
	offset += 2
	copy(buf[offset:offset+len(s)], s)
	return offset + len(s)
}

func putBytes32(buf []byte, offset int, b []byte) int {
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(b)))
	offset += 4
	copy(buf[offset:offset+len(b)], b)
	return offset + len(b)
}

func readString16(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", 0, fmt.Errorf("BinaryCodec: truncated field length at offset %d", offset)
	}
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+n > len(data) {
		return "", 0, fmt.Errorf("BinaryCodec: truncated field at offset %d", offset)
	}
	return string(data[offset : offset+n]), offset + n, nil
}

func readBytes32(data []byte, offset int) ([]byte, int, error) {
	if offset+4 > len(data) {
		return nil, 0, fmt.Errorf("BinaryCodec: truncated field length at offset %d", offset)
	}
	n := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if offset+n > len(data) {
		return nil, 0, fmt.Errorf("BinaryCodec: truncated field at offset %d", offset)
	}
	if n == 0 {
		return nil, offset, nil
	}
	out := make([]byte, n)
	copy(out, data[offset:offset+n])
	return out, offset + n, nil
}
