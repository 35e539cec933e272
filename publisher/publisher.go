package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/cdcrelay/cdc"
	"github.com/maxpert/cdcrelay/telemetry"
	"github.com/rs/zerolog/log"
)

// Outcome is the resolved result of one Publish call
type Outcome struct {
	Record             Record
	Delivery           Delivery
	Err                error             // Publish failure reported by the output sink
	DeadLetter         *DeadLetterRecord // Set when Err is non-nil
	DeadLetterDelivery Delivery
	DeadLetterErr      error // Dead-letter hand-off failure, never retried
	Latency            time.Duration
}

// Failed reports whether the canonical message missed the output topic
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Config configures a Publisher
type Config struct {
	Topic      string            // Output topic
	Sink       Sink              // Output sink
	DeadLetter DeadLetterChannel // Receives failed records
	Headers    []Header          // Added to every output record
}

// Publisher submits canonical messages to the output topic and redirects
// failures to the dead-letter channel. Safe for concurrent use.
type Publisher struct {
	topic      string
	sink       Sink
	deadLetter DeadLetterChannel
	headers    []Header
	inflight   sync.WaitGroup
}

// NewPublisher creates a new Publisher
func NewPublisher(config Config) (*Publisher, error) {
	if config.Topic == "" {
		return nil, fmt.Errorf("output topic is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.DeadLetter == nil {
		return nil, fmt.Errorf("dead-letter channel is required")
	}

	return &Publisher{
		topic:      config.Topic,
		sink:       config.Sink,
		deadLetter: config.DeadLetter,
		headers:    append([]Header(nil), config.Headers...),
	}, nil
}

// Topic returns the output topic
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish issues a non-blocking publish of body under key. The returned
// future resolves after the broker outcome is known and, on failure, after
// the dead-letter hand-off has completed. The future never carries an error;
// failures are reported through Outcome.
func (p *Publisher) Publish(ctx context.Context, key cdc.RoutingKey, body []byte, headers ...Header) *future.Future[Outcome] {
	rec := Record{
		Topic:   p.topic,
		Key:     key.Bytes(),
		Value:   body,
		Headers: make([]Header, 0, len(p.headers)+len(headers)),
	}
	rec.Headers = append(rec.Headers, p.headers...)
	rec.Headers = append(rec.Headers, headers...)

	promise := future.NewPromise[Outcome]()
	start := time.Now()

	p.inflight.Add(1)
	telemetry.InflightPublishes.Inc()

	fut := p.sink.Publish(ctx, rec)

	go func() {
		defer p.inflight.Done()
		defer telemetry.InflightPublishes.Dec()

		delivery, err := fut.Get()
		promise.Set(p.complete(ctx, rec, delivery, err, time.Since(start)), nil)
	}()

	return promise.Future()
}

// complete runs exactly once per Publish, on the continuation goroutine
func (p *Publisher) complete(ctx context.Context, rec Record, delivery Delivery, err error, latency time.Duration) Outcome {
	telemetry.PublishLatencySeconds.Observe(latency.Seconds())

	outcome := Outcome{
		Record:   rec,
		Delivery: delivery,
		Err:      err,
		Latency:  latency,
	}

	if err == nil {
		telemetry.PublishTotal.With("success").Inc()
		return outcome
	}

	telemetry.PublishTotal.With("failed").Inc()

	dl := NewDeadLetterRecord(rec, err)
	outcome.DeadLetter = &dl

	log.Warn().
		Err(err).
		Str("topic", rec.Topic).
		Bytes("key", rec.Key).
		Str("error_class", dl.ErrorClass).
		Msg("Failed to publish canonical message, redirecting to dead-letter channel")

	// The caller's context may already be done; the dead letter is still owed.
	dlCtx := context.WithoutCancel(ctx)
	outcome.DeadLetterDelivery, outcome.DeadLetterErr = p.deadLetter.Deliver(dlCtx, dl).Get()

	if outcome.DeadLetterErr != nil {
		telemetry.DeadLetterTotal.With("failed").Inc()
		log.Error().
			Err(outcome.DeadLetterErr).
			Str(HeaderErrorClass, dl.ErrorClass).
			Str(HeaderErrorMessage, dl.ErrorMessage).
			Str(HeaderOriginalTopic, dl.OriginalTopic).
			Bytes("key", dl.Key).
			Msg("Failed to deliver dead letter")
		return outcome
	}

	telemetry.DeadLetterTotal.With("success").Inc()
	log.Debug().
		Str("topic", outcome.DeadLetterDelivery.Topic).
		Int("partition", outcome.DeadLetterDelivery.Partition).
		Int64("offset", outcome.DeadLetterDelivery.Offset).
		Msg("Dead letter delivered")

	return outcome
}

// Drain waits until every continuation registered by Publish has run.
// Callers must stop issuing new publishes before draining.
func (p *Publisher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with publishes in flight: %w", ctx.Err())
	}
}
