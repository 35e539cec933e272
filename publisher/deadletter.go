package publisher

import (
	"context"
	"fmt"

	"github.com/jizhuozhi/go-future"
)

// SinkDeadLetter publishes dead letters to a topic through a Sink
type SinkDeadLetter struct {
	sink    Sink
	topic   string
	headers []Header
}

// NewSinkDeadLetter creates a dead-letter channel writing to topic.
// Extra headers are appended after the dead-letter annotations.
func NewSinkDeadLetter(sink Sink, topic string, headers ...Header) (*SinkDeadLetter, error) {
	if sink == nil {
		return nil, fmt.Errorf("dead-letter sink is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("dead-letter topic is required")
	}

	return &SinkDeadLetter{
		sink:    sink,
		topic:   topic,
		headers: append([]Header(nil), headers...),
	}, nil
}

// Topic returns the dead-letter topic
func (s *SinkDeadLetter) Topic() string {
	return s.topic
}

// Deliver publishes rec to the dead-letter topic
func (s *SinkDeadLetter) Deliver(ctx context.Context, rec DeadLetterRecord) *future.Future[Delivery] {
	headers := rec.Headers()
	headers = append(headers, s.headers...)

	return s.sink.Publish(ctx, Record{
		Topic:   s.topic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: headers,
	})
}

// DeadLetterFunc adapts a function to DeadLetterChannel. The function runs
// synchronously inside Deliver.
type DeadLetterFunc func(ctx context.Context, rec DeadLetterRecord) error

// Deliver calls f and returns its result as a completed future
func (f DeadLetterFunc) Deliver(ctx context.Context, rec DeadLetterRecord) *future.Future[Delivery] {
	return Resolved(Delivery{}, f(ctx, rec))
}
