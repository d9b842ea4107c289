// Package ipc implements the daemon's control-socket transport: a local
// stream socket at a well-known path in the state directory, optionally
// joined by a TCP listener guarded by a bearer token. Every frame is a
// 4-byte big-endian length prefix followed by a JSON payload, mirroring
// the event log's own flat-JSON-with-a-type-tag wire shape so a request,
// a response, and an event all look the same on the wire.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// MaxFrameSize bounds a single frame to guard against a misbehaving
// client claiming a multi-gigabyte length prefix.
const MaxFrameSize = 16 << 20 // 16 MiB

// Request is the envelope every client sends. Type is either a core verb
// ("ping", "hello", "status", "query", "events", "shutdown") or, for
// every mutating request, the exact action event tag it lowers to
// ("job:cancel", "queue:push", ...) — Payload then unmarshals into that
// tag's payload struct from internal/models.
type Request struct {
	Type string `json:"type"`
	// RequestID ties a request to the daemon log: Handler.Handle logs it
	// at debug level. It is not echoed in the Response and follow-on
	// events do not carry it. A client that leaves it empty gets one
	// assigned by Client.Call; it is never required on the wire.
	RequestID string          `json:"request_id,omitempty"`
	Project   string          `json:"project,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// newRequestID returns a fresh request correlation id. A random id
// rather than a sequential counter, since requests arrive from
// independent client connections with no shared counter to serialize on.
func newRequestID() string {
	return uuid.New().String()
}

// ErrorInfo is a stable, renderable error: Kind never changes across
// versions even if Message's wording does.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the envelope every server reply shares.
type Response struct {
	Ok    bool            `json:"ok"`
	Error *ErrorInfo      `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func okResponse(data interface{}) Response {
	b, err := json.Marshal(data)
	if err != nil {
		return errResponse("bug", "marshal response: "+err.Error())
	}
	return Response{Ok: true, Data: b}
}

func errResponse(kind, message string) Response {
	return Response{Ok: false, Error: &ErrorInfo{Kind: kind, Message: message}}
}

// WriteFrame marshals v as JSON and writes it length-prefixed to w.
func WriteFrame(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal frame: %w", err)
	}
	if len(b) > MaxFrameSize {
		return fmt.Errorf("ipc: frame too large: %d bytes", len(b))
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("ipc: write frame length: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return err // EOF/ErrUnexpectedEOF propagate as-is so callers can detect a closed connection
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > MaxFrameSize {
		return fmt.Errorf("ipc: frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("ipc: read frame body: %w", err)
	}
	return json.Unmarshal(buf, v)
}
