package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// PublishBuckets for broker acknowledgment latency (linger + network + acks=all)
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120}
)

// Normalization Metrics
var (
	// EventsReceivedTotal counts raw envelopes handed to the pipeline
	EventsReceivedTotal Counter = NoopStat{}

	// EventsNormalizedTotal counts normalized envelopes by operation type
	EventsNormalizedTotal CounterVec = noopCounterVec{}

	// NormalizeFallbackTotal counts recovered normalization failures by kind (decode, encode)
	NormalizeFallbackTotal CounterVec = noopCounterVec{}

	// EventsFilteredTotal counts envelopes skipped by the table filter
	EventsFilteredTotal Counter = NoopStat{}

	// QueueDepth tracks envelopes waiting in worker queues
	QueueDepth Gauge = NoopStat{}
)

// Publish Metrics
var (
	// PublishTotal counts output publishes by result (success, failed)
	PublishTotal CounterVec = noopCounterVec{}

	// PublishLatencySeconds measures time from publish call to broker outcome
	PublishLatencySeconds Histogram = NoopStat{}

	// DeadLetterTotal counts dead-letter deliveries by result (success, failed)
	DeadLetterTotal CounterVec = noopCounterVec{}

	// InflightPublishes tracks publishes awaiting a broker outcome
	InflightPublishes Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Normalization Metrics
	EventsReceivedTotal = NewCounter(
		"events_received_total",
		"Total raw change envelopes received",
	)
	EventsNormalizedTotal = NewCounterVec(
		"events_normalized_total",
		"Total normalized change envelopes by operation type",
		[]string{"operation"},
	)
	NormalizeFallbackTotal = NewCounterVec(
		"normalize_fallback_total",
		"Recovered normalization failures by kind",
		[]string{"kind"},
	)
	EventsFilteredTotal = NewCounter(
		"events_filtered_total",
		"Total change envelopes skipped by the table filter",
	)
	QueueDepth = NewGauge(
		"queue_depth",
		"Change envelopes waiting in worker queues",
	)

	// Publish Metrics
	PublishTotal = NewCounterVec(
		"publish_total",
		"Total output publishes by result",
		[]string{"result"},
	)
	PublishLatencySeconds = NewHistogramWithBuckets(
		"publish_latency_seconds",
		"Time from publish to broker outcome in seconds",
		PublishBuckets,
	)
	DeadLetterTotal = NewCounterVec(
		"dead_letter_total",
		"Total dead-letter deliveries by result",
		[]string{"result"},
	)
	InflightPublishes = NewGauge(
		"inflight_publishes",
		"Publishes awaiting a broker outcome",
	)
}
