package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/publisher"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaMaxAttempts  = 5
	DefaultKafkaBatchTimeout = 5 * time.Millisecond
	DefaultKafkaWriteTimeout = 120 * time.Second
)

func init() {
	publisher.RegisterSink("kafka", func(config *cfg.Configuration) (publisher.Sink, error) {
		compression, err := ParseCompression(config.Kafka.Compression)
		if err != nil {
			return nil, err
		}

		kafkaConfig := KafkaConfig{
			Brokers:          config.Kafka.Brokers,
			ClientID:         config.InstanceID,
			BatchSize:        config.Kafka.BatchSize,
			BatchBytes:       config.Kafka.BatchBytes,
			BatchTimeout:     time.Duration(config.Kafka.BatchTimeoutMS) * time.Millisecond,
			WriteTimeout:     time.Duration(config.Kafka.WriteTimeoutMS) * time.Millisecond,
			MaxAttempts:      config.Kafka.MaxAttempts,
			RequiredAcks:     kafka.RequiredAcks(config.Kafka.RequiredAcks),
			Compression:      compression,
			AutoCreateTopics: config.Kafka.AutoCreateTopics,
		}
		return NewKafkaSink(kafkaConfig)
	})
}

// KafkaSink implements the Sink interface for Kafka publishing.
// Records are written asynchronously; each record's future resolves from the
// writer's completion callback.
type KafkaSink struct {
	writer *kafka.Writer
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	ClientID         string             // Client ID reported to brokers
	BatchSize        int                // Max records per batch (default: 100)
	BatchBytes       int64              // Max batch bytes (default: 1MB)
	BatchTimeout     time.Duration      // Linger before flushing a partial batch (default: 5ms)
	WriteTimeout     time.Duration      // Per-write timeout (default: 120s)
	MaxAttempts      int                // Attempts per batch (default: 5)
	RequiredAcks     kafka.RequiredAcks // Ack requirement (default: RequireAll)
	Compression      kafka.Compression  // Batch compression codec (default: none)
	AutoCreateTopics bool               // Auto-create topics if they don't exist (default: true)
}

// DefaultKafkaConfig returns a KafkaConfig with producer reliability defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		BatchTimeout:     DefaultKafkaBatchTimeout,
		WriteTimeout:     DefaultKafkaWriteTimeout,
		MaxAttempts:      DefaultKafkaMaxAttempts,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// ParseCompression maps a codec name to a kafka-go compression codec
func ParseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown kafka compression: %s", name)
	}
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	// Set defaults if not provided
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultKafkaMaxAttempts
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{}, // Partition by key for consistent routing
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		BatchTimeout:           config.BatchTimeout,
		WriteTimeout:           config.WriteTimeout,
		MaxAttempts:            config.MaxAttempts,
		RequiredAcks:           config.RequiredAcks,
		Compression:            config.Compression,
		Async:                  true,
		Completion:             completeKafkaBatch,
		AllowAutoTopicCreation: config.AutoCreateTopics,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("component", "kafka-writer").Msgf(msg, args...)
		}),
	}

	if config.ClientID != "" {
		writer.Transport = &kafka.Transport{ClientID: config.ClientID}
	}

	return &KafkaSink{writer: writer}, nil
}

// kafkaDelivery resolves one record's promise at most once
type kafkaDelivery struct {
	promise *future.Promise[publisher.Delivery]
	once    sync.Once
}

func (d *kafkaDelivery) resolve(delivery publisher.Delivery, err error) {
	d.once.Do(func() {
		d.promise.Set(delivery, err)
	})
}

// Publish enqueues a record on the async writer. A nil key lets the hash
// balancer pick a partition round-robin.
func (k *KafkaSink) Publish(ctx context.Context, rec publisher.Record) *future.Future[publisher.Delivery] {
	d := &kafkaDelivery{promise: future.NewPromise[publisher.Delivery]()}

	msg := kafka.Message{
		Topic:      rec.Topic,
		Key:        rec.Key,
		Value:      rec.Value,
		Headers:    kafkaHeaders(rec.Headers),
		WriterData: d,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		d.resolve(publisher.Delivery{}, err)
	}

	return d.promise.Future()
}

// completeKafkaBatch runs on the writer goroutine once per batch
func completeKafkaBatch(messages []kafka.Message, err error) {
	var writeErrs kafka.WriteErrors
	perMessage := errors.As(err, &writeErrs) && len(writeErrs) == len(messages)

	for i, msg := range messages {
		d, ok := msg.WriterData.(*kafkaDelivery)
		if !ok {
			continue
		}

		msgErr := err
		if perMessage {
			msgErr = writeErrs[i]
		}

		if msgErr != nil {
			d.resolve(publisher.Delivery{}, msgErr)
			continue
		}

		d.resolve(publisher.Delivery{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}, nil)
	}
}

func kafkaHeaders(headers []publisher.Header) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}

	out := make([]kafka.Header, 0, len(headers))
	for _, h := range headers {
		out = append(out, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
	}
	return out
}

// Close flushes pending batches and releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
