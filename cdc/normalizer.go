package cdc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CanonicalMessage is the normalized, single-encoded form of a change event.
// Data holds the envelope's JSON text, or nil for an undecodable input.
type CanonicalMessage struct {
	Data          any           `json:"data"`
	OperationType OperationType `json:"operationType"`
}

// RoutingKey is the optional partition key of an output record
type RoutingKey struct {
	Value   string
	Present bool
}

// KeyOf returns a present routing key
func KeyOf(value string) RoutingKey {
	return RoutingKey{Value: value, Present: true}
}

// Bytes returns the key as bytes, nil when absent
func (k RoutingKey) Bytes() []byte {
	if !k.Present {
		return nil
	}
	return []byte(k.Value)
}

func (k RoutingKey) String() string {
	if !k.Present {
		return "<none>"
	}
	return k.Value
}

// Result is the outcome of normalizing one raw envelope
type Result struct {
	Envelope Envelope
	Message  CanonicalMessage
	Key      RoutingKey
	Body     []byte

	// DecodeErr is set when the input could not be decoded
	DecodeErr error
	// EncodeErr is set when Body is the raw input because serialization failed
	EncodeErr error
}

// Passthrough reports whether Body is the unmodified raw input
func (r Result) Passthrough() bool {
	return r.EncodeErr != nil
}

// MarshalFunc encodes a canonical message to its wire form
type MarshalFunc func(msg CanonicalMessage) ([]byte, error)

// Option configures a Normalizer
type Option func(*Normalizer)

// WithMarshaler replaces the canonical message encoder
func WithMarshaler(fn MarshalFunc) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.marshal = fn
		}
	}
}

// Normalizer converts raw change envelopes into canonical messages
type Normalizer struct {
	marshal MarshalFunc
}

// NewNormalizer creates a Normalizer
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{marshal: MarshalCanonical}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize decodes, classifies and re-encodes one raw envelope.
// It never fails: see the package documentation for the fallbacks.
func (n *Normalizer) Normalize(raw []byte) Result {
	log.Debug().Bytes("raw", raw).Msg("Received change envelope")

	var res Result

	env, err := DecodeEnvelope(raw)
	if err != nil {
		res.DecodeErr = err
		env = Envelope{}
	}
	res.Envelope = env
	res.Message = CanonicalMessage{OperationType: Classify(env)}
	if env.Present() {
		res.Message.Data = env.Raw()
	}
	res.Key = ExtractKey(env)

	body, err := n.encode(res.Message)
	if err != nil {
		res.EncodeErr = err
		body = raw
	}
	res.Body = body

	return res
}

func (n *Normalizer) encode(msg CanonicalMessage) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			body = nil
			err = fmt.Errorf("canonical encoder panicked: %v", r)
		}
	}()
	return n.marshal(msg)
}

// Classify returns the operation type of an envelope. Absent and null
// envelopes are OpUnknown.
func Classify(env Envelope) OperationType {
	if env.IsNull() {
		return OpUnknown
	}
	return ClassifyOp(env.OpCode())
}

// ExtractKey reads the routing key from the "ID" column of the relevant row
// image: "before" when the op code is exactly "d", "after" otherwise.
func ExtractKey(env Envelope) RoutingKey {
	if env.IsNull() {
		return RoutingKey{}
	}

	image := "after"
	if env.OpCode() == opCodeDelete {
		image = "before"
	}

	row, ok := env.Field(image)
	if !ok || row == nil {
		return RoutingKey{}
	}

	id, ok := field(row, "ID")
	if !ok || id == nil {
		return RoutingKey{}
	}

	return KeyOf(textOf(id))
}

// MarshalCanonical encodes msg as compact JSON without HTML escaping
func MarshalCanonical(msg CanonicalMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(msg); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
