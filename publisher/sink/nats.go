package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNatsMaxPending   = 4096
	DefaultNatsAckTimeout   = 30 * time.Second
	DefaultNatsStreamMaxAge = 24 * time.Hour
)

// ErrNatsAckTimeout is returned when JetStream does not acknowledge a publish in time
var ErrNatsAckTimeout = errors.New("nats: timed out waiting for publish ack")

func init() {
	publisher.RegisterSink("nats", func(config *cfg.Configuration) (publisher.Sink, error) {
		if config.Nats.URL == "" {
			return nil, fmt.Errorf("nats sink requires nats.url")
		}
		return NewNatsSink(NatsConfig{
			URL:           config.Nats.URL,
			Name:          config.InstanceID,
			ReconnectWait: time.Duration(config.Nats.ReconnectWaitMS) * time.Millisecond,
			MaxReconnects: config.Nats.MaxReconnects,
			MaxPending:    config.Nats.MaxPending,
			AckTimeout:    time.Duration(config.Kafka.WriteTimeoutMS) * time.Millisecond,
			StreamMaxAge:  time.Duration(config.Nats.StreamMaxAgeH) * time.Hour,
		})
	})
}

// NatsConfig holds configuration for NatsSink
type NatsConfig struct {
	URL           string
	Name          string        // Connection name
	ReconnectWait time.Duration // Delay between reconnect attempts
	MaxReconnects int           // -1 = unlimited
	MaxPending    int           // Max outstanding async publishes
	AckTimeout    time.Duration // Max wait for a publish ack
	StreamMaxAge  time.Duration // Retention of auto-created streams
}

// NatsSink implements the Sink interface for NATS JetStream publishing
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	config  NatsConfig
	streams *xsync.MapOf[string, struct{}] // Subjects with an ensured stream
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(config NatsConfig) (*NatsSink, error) {
	if config.ReconnectWait <= 0 {
		config.ReconnectWait = time.Second
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = -1
	}
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultNatsMaxPending
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultNatsAckTimeout
	}
	if config.StreamMaxAge <= 0 {
		config.StreamMaxAge = DefaultNatsStreamMaxAge
	}

	nc, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc, jetstream.WithPublishAsyncMaxPending(config.MaxPending))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{
		nc:      nc,
		js:      js,
		config:  config,
		streams: xsync.NewMapOf[string, struct{}](),
	}, nil
}

// Publish sends a record to NATS JetStream without waiting for the ack.
// The key is carried in the "key" header when present.
func (n *NatsSink) Publish(ctx context.Context, rec publisher.Record) *future.Future[publisher.Delivery] {
	if err := n.ensureStream(ctx, rec.Topic); err != nil {
		return publisher.Resolved(publisher.Delivery{}, err)
	}

	msg := &nats.Msg{
		Subject: rec.Topic,
		Data:    rec.Value,
		Header:  nats.Header{},
	}
	if rec.Key != nil {
		msg.Header.Set("key", string(rec.Key))
	}
	for _, h := range rec.Headers {
		msg.Header.Add(h.Key, h.Value)
	}

	ack, err := n.js.PublishMsgAsync(msg)
	if err != nil {
		return publisher.Resolved(publisher.Delivery{}, fmt.Errorf("failed to publish to %s: %w", rec.Topic, err))
	}

	p := future.NewPromise[publisher.Delivery]()
	go func() {
		timer := time.NewTimer(n.config.AckTimeout)
		defer timer.Stop()

		select {
		case pa := <-ack.Ok():
			p.Set(publisher.Delivery{Topic: rec.Topic, Offset: int64(pa.Sequence)}, nil)
		case err := <-ack.Err():
			p.Set(publisher.Delivery{}, err)
		case <-timer.C:
			p.Set(publisher.Delivery{}, ErrNatsAckTimeout)
		}
	}()

	return p.Future()
}

// ensureStream creates the backing stream for a subject once per sink
func (n *NatsSink) ensureStream(ctx context.Context, subject string) error {
	if _, ok := n.streams.Load(subject); ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	streamName := sanitizeStreamName(subject)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    n.config.StreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streams.Store(subject, struct{}{})
	log.Debug().Str("stream", streamName).Str("subject", subject).Msg("Ensured JetStream stream")
	return nil
}

// Close waits for outstanding acks and releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc == nil {
		return nil
	}

	select {
	case <-n.js.PublishAsyncComplete():
	case <-time.After(n.config.AckTimeout):
		log.Warn().Int("pending", n.js.PublishAsyncPending()).Msg("Closing NATS sink with unacknowledged publishes")
	}

	n.nc.Close()
	return nil
}

// sanitizeStreamName converts a subject to a valid JetStream stream name
// JetStream stream names can't contain ".", "*" or ">" so they become "_"
func sanitizeStreamName(subject string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject)
}
