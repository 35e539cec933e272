package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

func init() {
	Register(cfg.SourceKafka, func(config *cfg.Configuration) (Source, error) {
		return NewKafkaSource(KafkaConfig{
			Brokers:         config.Kafka.Brokers,
			Topics:          config.Source.Kafka.Topics,
			GroupID:         config.Source.Kafka.GroupID,
			ClientID:        config.InstanceID,
			MinBytes:        config.Source.Kafka.MinBytes,
			MaxBytes:        config.Source.Kafka.MaxBytes,
			MaxWait:         time.Duration(config.Source.Kafka.MaxWaitMS) * time.Millisecond,
			StartFromOldest: config.Source.Kafka.StartFromOldest,
		})
	})
}

// KafkaConfig holds configuration for KafkaSource
type KafkaConfig struct {
	Brokers         []string
	Topics          []string
	GroupID         string
	ClientID        string
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
	StartFromOldest bool // Start new groups at the earliest offset
}

// KafkaSource consumes raw envelopes from a Kafka consumer group.
// Offsets are committed after the handler accepts each message.
type KafkaSource struct {
	reader *kafka.Reader
}

// NewKafkaSource creates a consumer group reader
func NewKafkaSource(config KafkaConfig) (*KafkaSource, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one broker address")
	}
	if len(config.Topics) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one topic")
	}
	if config.GroupID == "" {
		return nil, fmt.Errorf("kafka source requires a group id")
	}

	startOffset := kafka.LastOffset
	if config.StartFromOldest {
		startOffset = kafka.FirstOffset
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:     config.Brokers,
		GroupID:     config.GroupID,
		GroupTopics: config.Topics,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: startOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("component", "kafka-reader").Msgf(msg, args...)
		}),
	}
	if config.ClientID != "" {
		readerConfig.Dialer = &kafka.Dialer{
			ClientID:  config.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		}
	}

	return &KafkaSource{reader: kafka.NewReader(readerConfig)}, nil
}

// Run fetches, hands off and commits messages until ctx is done
func (s *KafkaSource) Run(ctx context.Context, h Handler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := h(ctx, kafkaEvent(msg)); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handler rejected %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Redelivery after restart is acceptable
			log.Warn().
				Err(err).
				Str("topic", msg.Topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Failed to commit offset - message may be redelivered")
		}
	}
}

func kafkaEvent(msg kafka.Message) Event {
	ev := Event{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for _, h := range msg.Headers {
		ev.Headers = append(ev.Headers, Header{Key: h.Key, Value: string(h.Value)})
	}
	return ev
}

// Close releases resources held by the KafkaSource
func (s *KafkaSource) Close() error {
	if s.reader == nil {
		return nil
	}
	return s.reader.Close()
}
