// Package jsoncodec is the single JSON entry point of eventrelay. Everything
// that touches JSON (the json serializer strategy, SQL property columns, broker
// records) goes through here so the sonic configuration stays in one place.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// std keeps encoding/json compatible output (sorted map keys, HTML escaping)
// so persisted payloads are stable across runs.
var std = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return std.Valid(data)
}

func Encode(w io.Writer, v any) error {
	return std.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return std.NewDecoder(r).Decode(v)
}
