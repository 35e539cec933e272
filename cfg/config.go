package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// SourceType selects where raw change envelopes are read from
type SourceType string

const (
	SourceKafka SourceType = "kafka" // Kafka consumer group
	SourceNats  SourceType = "nats"  // JetStream durable consumer
	SourceStdin SourceType = "stdin" // Newline-delimited envelopes on stdin
)

// OutputConfiguration controls where canonical messages and dead letters go
type OutputConfiguration struct {
	Topic             string   `toml:"topic"`
	DeadLetterTopic   string   `toml:"dead_letter_topic"`
	Sink              string   `toml:"sink"`               // Sink type for canonical messages
	DeadLetterSink    string   `toml:"dead_letter_sink"`   // Sink type for dead letters (empty = same as sink)
	HeaderPassthrough []string `toml:"header_passthrough"` // Glob patterns of source headers copied to output
}

// KafkaSourceConfiguration for the Kafka consumer source
type KafkaSourceConfiguration struct {
	Topics          []string `toml:"topics"`
	GroupID         string   `toml:"group_id"`
	MinBytes        int      `toml:"min_bytes"`
	MaxBytes        int      `toml:"max_bytes"`
	MaxWaitMS       int      `toml:"max_wait_ms"`
	StartFromOldest bool     `toml:"start_from_oldest"`
}

// NatsSourceConfiguration for the JetStream consumer source
type NatsSourceConfiguration struct {
	Stream   string   `toml:"stream"`
	Subjects []string `toml:"subjects"`
	Durable  string   `toml:"durable"`
}

// SourceConfiguration controls the change envelope source
type SourceConfiguration struct {
	Type  SourceType               `toml:"type"`
	Kafka KafkaSourceConfiguration `toml:"kafka"`
	Nats  NatsSourceConfiguration  `toml:"nats"`
}

// KafkaConfiguration holds broker and producer settings shared by Kafka sources and sinks
type KafkaConfiguration struct {
	Brokers          []string `toml:"brokers"`
	RequiredAcks     int      `toml:"required_acks"` // -1 = all, 0 = none, 1 = leader
	MaxAttempts      int      `toml:"max_attempts"`
	BatchSize        int      `toml:"batch_size"`
	BatchBytes       int64    `toml:"batch_bytes"`
	BatchTimeoutMS   int      `toml:"batch_timeout_ms"` // Producer linger
	WriteTimeoutMS   int      `toml:"write_timeout_ms"` // Delivery timeout
	Compression      string   `toml:"compression"`      // "", gzip, snappy, lz4, zstd
	AutoCreateTopics bool     `toml:"auto_create_topics"`
}

// NatsConfiguration holds NATS connection settings
type NatsConfiguration struct {
	URL             string `toml:"url"`
	ReconnectWaitMS int    `toml:"reconnect_wait_ms"`
	MaxReconnects   int    `toml:"max_reconnects"` // -1 = unlimited
	MaxPending      int    `toml:"max_pending"`    // Max outstanding async publishes
	StreamMaxAgeH   int    `toml:"stream_max_age_hours"`
}

// PipelineConfiguration controls the normalization worker pool
type PipelineConfiguration struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"` // Per-worker queue capacity
}

// FilterConfiguration restricts which source tables are published
type FilterConfiguration struct {
	Tables    []string `toml:"tables"`    // Glob patterns on table or schema.table
	Databases []string `toml:"databases"` // Glob patterns on source database
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the HTTP admin surface
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // Required on /admin routes when set
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`

	Output     OutputConfiguration     `toml:"output"`
	Source     SourceConfiguration     `toml:"source"`
	Kafka      KafkaConfiguration      `toml:"kafka"`
	Nats       NatsConfiguration       `toml:"nats"`
	Pipeline   PipelineConfiguration   `toml:"pipeline"`
	Filter     FilterConfiguration     `toml:"filter"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "config.toml", "Path to configuration file")
	OutputTopicFlag = flag.String("output-topic", "", "Output topic (overrides config)")
	DLTTopicFlag    = flag.String("dlt-topic", "", "Dead-letter topic (overrides config)")
	SourceFlag      = flag.String("source", "", "Source type: kafka, nats or stdin (overrides config)")
	SinkFlag        = flag.String("sink", "", "Output sink type (overrides config)")
)

// Default configuration
var Config = &Configuration{
	InstanceID: "", // Auto-generate

	Output: OutputConfiguration{
		Topic:             "cdc.out",
		DeadLetterTopic:   "cdc.out.dlt",
		Sink:              "kafka",
		DeadLetterSink:    "",
		HeaderPassthrough: []string{"special*"},
	},

	Source: SourceConfiguration{
		Type: SourceKafka,
		Kafka: KafkaSourceConfiguration{
			Topics:          []string{"cdc.raw"},
			GroupID:         "cdcrelay",
			MinBytes:        1,
			MaxBytes:        10 << 20, // 10MB
			MaxWaitMS:       500,
			StartFromOldest: true,
		},
		Nats: NatsSourceConfiguration{
			Stream:   "CDC_RAW",
			Subjects: []string{"cdc.raw.>"},
			Durable:  "cdcrelay",
		},
	},

	Kafka: KafkaConfiguration{
		Brokers:          []string{"localhost:29092"},
		RequiredAcks:     -1, // acks=all
		MaxAttempts:      5,  // retries=5
		BatchSize:        100,
		BatchBytes:       1 << 20, // 1MB
		BatchTimeoutMS:   5,       // linger.ms=5
		WriteTimeoutMS:   120000,  // delivery.timeout.ms=120000
		Compression:      "",
		AutoCreateTopics: true,
	},

	Nats: NatsConfiguration{
		URL:             "nats://localhost:4222",
		ReconnectWaitMS: 1000,
		MaxReconnects:   -1,
		MaxPending:      4096,
		StreamMaxAgeH:   24,
	},

	Pipeline: PipelineConfiguration{
		Workers:   4,
		QueueSize: 1024,
	},

	Filter: FilterConfiguration{},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
		Secret:  "",
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *OutputTopicFlag != "" {
		Config.Output.Topic = *OutputTopicFlag
	}
	if *DLTTopicFlag != "" {
		Config.Output.DeadLetterTopic = *DLTTopicFlag
	}
	if *SourceFlag != "" {
		Config.Source.Type = SourceType(*SourceFlag)
	}
	if *SinkFlag != "" {
		Config.Output.Sink = *SinkFlag
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	return nil
}

// generateInstanceID derives a stable instance ID from the machine ID
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("cdcrelay")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return "cdcrelay-" + strconv.FormatUint(h.Sum64(), 36), nil
}

// DeadLetterSinkType returns the sink type used for dead letters
func (c *Configuration) DeadLetterSinkType() string {
	if c.Output.DeadLetterSink == "" {
		return c.Output.Sink
	}
	return c.Output.DeadLetterSink
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Output.Topic == "" {
		return fmt.Errorf("output topic is required")
	}

	if Config.Output.DeadLetterTopic == "" {
		return fmt.Errorf("dead-letter topic is required")
	}

	if Config.Output.DeadLetterTopic == Config.Output.Topic {
		return fmt.Errorf("dead-letter topic must differ from output topic %q", Config.Output.Topic)
	}

	if Config.Output.Sink == "" {
		return fmt.Errorf("output sink type is required")
	}

	switch Config.Source.Type {
	case SourceKafka:
		if len(Config.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka source requires at least one broker")
		}
		if len(Config.Source.Kafka.Topics) == 0 {
			return fmt.Errorf("kafka source requires at least one topic")
		}
		if Config.Source.Kafka.GroupID == "" {
			return fmt.Errorf("kafka source requires a group_id")
		}
	case SourceNats:
		if Config.Nats.URL == "" {
			return fmt.Errorf("nats source requires nats.url")
		}
		if Config.Source.Nats.Stream == "" || Config.Source.Nats.Durable == "" {
			return fmt.Errorf("nats source requires stream and durable")
		}
	case SourceStdin:
	default:
		return fmt.Errorf("invalid source type: %q", Config.Source.Type)
	}

	validAcks := map[int]bool{-1: true, 0: true, 1: true}
	if !validAcks[Config.Kafka.RequiredAcks] {
		return fmt.Errorf("invalid kafka required_acks: %d", Config.Kafka.RequiredAcks)
	}

	if Config.Kafka.MaxAttempts < 1 {
		return fmt.Errorf("kafka max_attempts must be >= 1")
	}

	if Config.Kafka.BatchTimeoutMS < 0 {
		return fmt.Errorf("kafka batch_timeout_ms must be >= 0")
	}

	if Config.Kafka.WriteTimeoutMS < 1 {
		return fmt.Errorf("kafka write_timeout_ms must be >= 1")
	}

	validCompression := map[string]bool{"": true, "none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true}
	if !validCompression[Config.Kafka.Compression] {
		return fmt.Errorf("invalid kafka compression: %s", Config.Kafka.Compression)
	}

	if Config.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be >= 1")
	}

	if Config.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline queue size must be >= 1")
	}

	if Config.Logging.Format != "" && Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}
