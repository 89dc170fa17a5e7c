// Package envelope defines the request and reply envelopes exchanged between the
// coordinator and the executor.
//
// Each envelope is serialized by the codec layer and wrapped in a protocol frame
// for transmission. The ID is the sole correlation key: it is generated by the
// coordinator, unique for the lifetime of the connection, and echoed back verbatim
// in the matching reply. Replies may arrive in any order relative to other
// in-flight replies.
package envelope

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Request carries one single-target operation to the executor.
type Request struct {
	ID     string          `json:"id"`     // Correlation ID, generated per request
	Kind   string          `json:"kind"`   // Operation name, e.g. "Node.SetFill"
	Params json.RawMessage `json:"params"` // JSON-encoded scalar parameter map
}

// Reply carries the executor's outcome for exactly one Request.
type Reply struct {
	ID     string          `json:"id"`               // Echoed Request.ID
	OK     bool            `json:"ok"`               // False if the executor failed
	Result json.RawMessage `json:"result,omitempty"` // Set when OK
	Error  string          `json:"error,omitempty"`  // Executor message when !OK
}

// NewRequest builds a request with a fresh correlation ID and the given scalar
// parameter map.
func NewRequest(kind string, params map[string]any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:     uuid.NewString(),
		Kind:   kind,
		Params: raw,
	}, nil
}

// OKReply builds a success reply echoing the request's ID.
func OKReply(id string, result json.RawMessage) *Reply {
	return &Reply{ID: id, OK: true, Result: result}
}

// ErrReply builds a failure reply echoing the request's ID.
func ErrReply(id string, msg string) *Reply {
	return &Reply{ID: id, OK: false, Error: msg}
}

// DecodeParams unmarshals the request's parameter map.
func (r *Request) DecodeParams() (map[string]any, error) {
	params := make(map[string]any)
	if len(r.Params) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, err
	}
	return params, nil
}
