// Package transport models the bidirectional framed message channel to a
// remote agent (spec.md §6): requests/responses travel as newline-
// delimited JSON, one document per line, with no length prefix on the
// frame. A local in-process implementation backs single-host runs
// and tests; internal/transport/sshchannel backs a real remote repo or
// PGDATA host.
package transport

import (
	"encoding/json"
	"io"
)

// Request mirrors spec.md §6's remote agent message frame.
type Request struct {
	Command string        `json:"command"`
	Params  []interface{} `json:"params"`
}

// Response mirrors spec.md §6: either a result or a structured error.
type Response struct {
	Out json.RawMessage `json:"out,omitempty"`
	Err *ResponseError  `json:"err,omitempty"`
}

type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Channel is the capability the engine's Remote storage backend and
// executor workers depend on.
type Channel interface {
	Send(req Request) (Response, error)
	Close() error
}

// Handler processes one Request and produces a Response; used by both
// the local and SSH-backed channel's server side.
type Handler func(Request) Response

// writeFrame/readFrame implement the framing: one JSON document per line,
// newline-delimited, with no length prefix.
func writeFrame(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

func readFrame(dec *json.Decoder, v interface{}) error {
	return dec.Decode(v)
}
