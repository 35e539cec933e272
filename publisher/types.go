package publisher

import (
	"context"

	"github.com/jizhuozhi/go-future"
)

// Header names carried by output and dead-letter records
const (
	HeaderErrorClass    = "x-error-class"
	HeaderErrorMessage  = "x-error-message"
	HeaderOriginalTopic = "x-original-topic"
	HeaderContentType   = "content-type"
	HeaderRelayInstance = "x-relay-instance"

	ContentTypeJSON = "application/json"
)

const (
	DefaultTopic           = "cdc.out"
	DefaultDeadLetterTopic = "cdc.out.dlt"
)

// Header is a single record annotation
type Header struct {
	Key   string
	Value string
}

// Record is one message handed to a sink
type Record struct {
	Topic   string
	Key     []byte // nil = no key
	Value   []byte
	Headers []Header
}

// Header returns the first header value with the given key
func (r Record) Header(key string) (string, bool) {
	for _, h := range r.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Delivery describes where a broker stored a record
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
}

// Sink represents a destination for records (e.g., Kafka, NATS).
// Publish must not block on the broker: the returned future resolves once
// the broker acknowledges or rejects the record.
type Sink interface {
	// Publish submits a record to the sink
	Publish(ctx context.Context, rec Record) *future.Future[Delivery]
	// Close flushes pending records and releases any resources held by the sink
	Close() error
}

// DeadLetterRecord is built when publishing a canonical message fails
type DeadLetterRecord struct {
	Key           []byte
	Value         []byte // Serialized canonical message
	ErrorClass    string
	ErrorMessage  string
	OriginalTopic string
}

// Headers returns the dead-letter annotations in a fixed order
func (d DeadLetterRecord) Headers() []Header {
	return []Header{
		{Key: HeaderErrorClass, Value: d.ErrorClass},
		{Key: HeaderErrorMessage, Value: d.ErrorMessage},
		{Key: HeaderOriginalTopic, Value: d.OriginalTopic},
	}
}

// DeadLetterChannel receives records that could not be published
type DeadLetterChannel interface {
	Deliver(ctx context.Context, rec DeadLetterRecord) *future.Future[Delivery]
}

// Resolved returns an already completed future
func Resolved(d Delivery, err error) *future.Future[Delivery] {
	p := future.NewPromise[Delivery]()
	p.Set(d, err)
	return p.Future()
}
