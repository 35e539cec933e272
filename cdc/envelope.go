package cdc

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Envelope is a decoded change event tree. The zero value is the absent
// envelope produced when decoding fails.
//
// Numbers are kept as json.Number. Raw holds the compacted source text of the
// value so it can be embedded with its field order and literals intact.
type Envelope struct {
	root    any
	raw     json.RawMessage
	present bool
}

// SourceInfo is the subset of Debezium source metadata used for filtering
type SourceInfo struct {
	Database string
	Schema   string
	Table    string
}

// QualifiedTable returns "schema.table" when a schema is known, otherwise the table name
func (s SourceInfo) QualifiedTable() string {
	if s.Schema == "" {
		return s.Table
	}
	return s.Schema + "." + s.Table
}

// DecodeEnvelope parses the first JSON value of raw. Anything after that
// value is ignored, matching lenient tree readers on the producing side.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return Envelope{}, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw[:dec.InputOffset()]); err != nil {
		return Envelope{}, err
	}

	return Envelope{root: root, raw: compact.Bytes(), present: true}, nil
}

// Present reports whether decoding succeeded
func (e Envelope) Present() bool {
	return e.present
}

// IsNull reports whether the envelope is absent or the JSON literal null
func (e Envelope) IsNull() bool {
	return !e.present || e.root == nil
}

// Root returns the decoded tree (nil for absent or null envelopes).
// Callers must treat it as read-only.
func (e Envelope) Root() any {
	return e.root
}

// Raw returns the compacted JSON text of the envelope, nil when absent
func (e Envelope) Raw() json.RawMessage {
	return e.raw
}

// Field returns a top level field of an object envelope
func (e Envelope) Field(name string) (any, bool) {
	return field(e.root, name)
}

// OpCode returns the "op" field as text, or "" when absent or null
func (e Envelope) OpCode() string {
	v, ok := e.Field("op")
	if !ok || v == nil {
		return ""
	}
	return textOf(v)
}

// Source returns the "source" block metadata. ok is false when the envelope
// carries no source object.
func (e Envelope) Source() (SourceInfo, bool) {
	v, ok := e.Field("source")
	if !ok {
		return SourceInfo{}, false
	}
	src, ok := v.(map[string]any)
	if !ok {
		return SourceInfo{}, false
	}

	info := SourceInfo{
		Database: stringField(src, "db"),
		Schema:   stringField(src, "schema"),
		Table:    stringField(src, "table"),
	}
	return info, true
}

func field(node any, name string) (any, bool) {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}

func stringField(obj map[string]any, name string) string {
	v, ok := obj[name]
	if !ok || v == nil {
		return ""
	}
	return textOf(v)
}

// textOf renders a scalar node as text. Containers render as "".
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return ""
	}
}
