// Package protocol defines the wire format spoken between server and clients:
// length-prefixed frames carrying JSON requests, responses and events,
// optionally zstd compressed once negotiated during auth.
package protocol

import (
	"encoding/json"
)

// Response ops.
const (
	OpAuth   = "auth"
	OpAuthed = "authed"
	OpOK     = "ok"
	OpEvent  = "event"
)

// Error codes carried in the "error" field of failure responses.
const (
	CodeFormat        = "format"
	CodeUnauthed      = "unauthed"
	CodeNonOpen       = "non_open"
	CodeDoesntExist   = "doesnt_exist"
	CodeExists        = "exists"
	CodeExist         = "exist" // create_collection spells it this way
	CodeAlreadyOpened = "already_opened"
	CodeAlreadyAuthed = "already_authed"
	CodeUser          = "user"
	CodePermissions   = "permissions"
	CodeActive        = "active"
	CodeUnknown       = "unknown"
	CodeDecoding      = "decoding"
	CodeInternal      = "internal"
)

// Request is a client frame. ID is echoed back verbatim and never inspected.
type Request struct {
	Op string          `json:"op"`
	ID json.RawMessage `json:"id,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// HasPayload reports whether the request carried a non-null "d".
func (r *Request) HasPayload() bool {
	return len(r.D) > 0 && string(r.D) != "null"
}

// Response is a server frame. Exactly one of Op and Error is set.
type Response struct {
	Op    string          `json:"op,omitempty"`
	ID    json.RawMessage `json:"id,omitempty"`
	D     interface{}     `json:"d,omitempty"`
	Error string          `json:"error,omitempty"`
}

// EventPayload is the "d" of an event frame.
type EventPayload struct {
	Event string      `json:"ev"`
	D     interface{} `json:"d"`
}

// OK builds a success response.
func OK(id json.RawMessage, data interface{}) *Response {
	return &Response{Op: OpOK, ID: id, D: data}
}

// Fail builds a failure response.
func Fail(id json.RawMessage, code string) *Response {
	return &Response{Error: code, ID: id}
}

// Event builds an unsolicited event frame.
func Event(name string, payload interface{}) *Response {
	return &Response{Op: OpEvent, D: EventPayload{Event: name, D: payload}}
}

// DecodeRequest parses a request payload. A syntactically valid frame without
// an op is still returned, the caller decides how to answer it.
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
