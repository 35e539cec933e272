package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

func init() {
	Register(cfg.SourceNats, func(config *cfg.Configuration) (Source, error) {
		return NewNatsSource(NatsConfig{
			URL:           config.Nats.URL,
			Name:          config.InstanceID,
			Stream:        config.Source.Nats.Stream,
			Subjects:      config.Source.Nats.Subjects,
			Durable:       config.Source.Nats.Durable,
			ReconnectWait: time.Duration(config.Nats.ReconnectWaitMS) * time.Millisecond,
			MaxReconnects: config.Nats.MaxReconnects,
		})
	})
}

// NatsConfig holds configuration for NatsSource
type NatsConfig struct {
	URL           string
	Name          string
	Stream        string
	Subjects      []string // Filter subjects; empty = whole stream
	Durable       string
	ReconnectWait time.Duration
	MaxReconnects int
}

// NatsSource consumes raw envelopes from a JetStream durable pull consumer.
// Messages are acked after the handler accepts them.
type NatsSource struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NatsConfig
}

// NewNatsSource connects to NATS
func NewNatsSource(config NatsConfig) (*NatsSource, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("nats source requires a url")
	}
	if config.Stream == "" || config.Durable == "" {
		return nil, fmt.Errorf("nats source requires stream and durable")
	}
	if config.ReconnectWait <= 0 {
		config.ReconnectWait = time.Second
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = -1
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

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSource{nc: nc, js: js, config: config}, nil
}

// Run consumes messages until ctx is done
func (s *NatsSource) Run(ctx context.Context, h Handler) error {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.config.Stream, jetstream.ConsumerConfig{
		Durable:        s.config.Durable,
		FilterSubjects: s.config.Subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s on %s: %w", s.config.Durable, s.config.Stream, err)
	}

	iter, err := cons.Messages()
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", s.config.Stream, err)
	}
	defer iter.Stop()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			iter.Stop()
		case <-stopped:
		}
	}()

	log.Info().
		Str("stream", s.config.Stream).
		Str("durable", s.config.Durable).
		Strs("subjects", s.config.Subjects).
		Msg("Consuming change envelopes from JetStream")

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := h(ctx, natsEvent(msg)); err != nil {
			if nakErr := msg.Nak(); nakErr != nil {
				log.Warn().Err(nakErr).Str("subject", msg.Subject()).Msg("Failed to nak message")
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handler rejected %s: %w", msg.Subject(), err)
		}

		if err := msg.Ack(); err != nil {
			log.Warn().
				Err(err).
				Str("subject", msg.Subject()).
				Msg("Failed to ack message - message may be redelivered")
		}
	}
}

func natsEvent(msg jetstream.Msg) Event {
	ev := Event{
		Topic: msg.Subject(),
		Value: msg.Data(),
	}
	headers := msg.Headers()
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := headers[key]
		if key == "key" && len(values) > 0 {
			ev.Key = []byte(values[0])
			continue
		}
		for _, v := range values {
			ev.Headers = append(ev.Headers, Header{Key: key, Value: v})
		}
	}
	return ev
}

// Close releases resources held by the NatsSource
func (s *NatsSource) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
