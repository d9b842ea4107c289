package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// mustMarshal JSON-encodes v for an outbound ipc.Request.Payload. Callers
// only ever pass the package's own payload structs, so a marshal failure
// here means a programming error, not bad input — panicking surfaces that
// immediately instead of letting a malformed request reach the daemon.
func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cli: marshal payload: %v", err))
	}
	return b
}

// envelope mirrors the shape of a daemon ipc.Response. printJSON writes it
// (and any other value) to stdout as compact JSON, agent-consumption-first
// — pretty-printing is opt-in via CREWD_PRETTY_JSON=1, never the default.
type envelope struct {
	Ok    bool            `json:"ok"`
	Error *envelopeError  `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type envelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	if os.Getenv("CREWD_PRETTY_JSON") == "1" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// printData JSON-encodes data as the success half of a response envelope.
func printData(data interface{}) error {
	return printJSON(struct {
		Ok   bool        `json:"ok"`
		Data interface{} `json:"data"`
	}{Ok: true, Data: data})
}

// printEnvelopeError renders error.kind verbatim on its own first line,
// then message, to stderr — stdout carries the JSON envelope exclusively.
func printEnvelopeError(kind, message string) {
	fmt.Fprintln(os.Stderr, kind)
	fmt.Fprintln(os.Stderr, message)
}
