package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/cdcrelay/cdc"
	"github.com/maxpert/cdcrelay/publisher"
	"github.com/maxpert/cdcrelay/source"
	"github.com/maxpert/cdcrelay/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default number of normalization workers
	DefaultWorkers = 4
	// Default capacity of each worker queue
	DefaultQueueSize = 1024
)

var (
	// ErrNotRunning is returned by Submit before Start
	ErrNotRunning = errors.New("worker pool not running")
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("worker pool stopped")
)

// Publisher issues non-blocking publishes of canonical messages
type Publisher interface {
	Publish(ctx context.Context, key cdc.RoutingKey, body []byte, headers ...publisher.Header) *future.Future[publisher.Outcome]
	Drain(ctx context.Context) error
}

// SourceFilter decides whether an envelope's source table is published
type SourceFilter interface {
	MatchSource(src cdc.SourceInfo) bool
}

// HeaderSelector decides which source headers are copied to output records
type HeaderSelector interface {
	Match(name string) bool
}

// Recorder observes every normalized envelope
type Recorder interface {
	RecordEvent(table string, op cdc.OperationType, filtered bool)
}

// Config configures the WorkerPool
type Config struct {
	Workers    int             // Number of workers (default: 4)
	QueueSize  int             // Per-worker queue capacity (default: 1024)
	Normalizer *cdc.Normalizer // Envelope normalizer (default: cdc.NewNormalizer())
	Publisher  Publisher       // Required
	Filter     SourceFilter    // Optional table filter
	Headers    HeaderSelector  // Optional header passthrough
	Recorder   Recorder        // Optional per-table stats
}

// WorkerPool normalizes envelopes on a fixed set of workers. Events with the
// same source key always land on the same worker, so their publishes are
// issued in arrival order. Keyless events share the first worker.
type WorkerPool struct {
	config      Config
	queues      []chan source.Event
	started     atomic.Bool
	stopped     atomic.Bool
	submitMu    sync.RWMutex // Held for reading while sending to a queue
	lifecycleMu sync.Mutex   // Protects Start/Stop lifecycle operations
	wg          sync.WaitGroup
	ctx         context.Context // Context for publishes; outlives Submit callers
	cancel      context.CancelFunc
}

// NewWorkerPool creates a worker pool
func NewWorkerPool(config Config) (*WorkerPool, error) {
	if config.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	// Set defaults
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Normalizer == nil {
		config.Normalizer = cdc.NewNormalizer()
	}

	queues := make([]chan source.Event, config.Workers)
	for i := range queues {
		queues[i] = make(chan source.Event, config.QueueSize)
	}

	return &WorkerPool{
		config: config,
		queues: queues,
	}, nil
}

// Start starts the worker goroutines
func (p *WorkerPool) Start() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started.Load() {
		return // Already started
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.started.Store(true)

	log.Info().
		Int("workers", len(p.queues)).
		Int("queue_size", p.config.QueueSize).
		Msg("Starting normalization worker pool")

	for i, queue := range p.queues {
		p.wg.Add(1)
		go p.work(i, queue)
	}
}

// Submit enqueues an event, blocking while the target queue is full.
// It has the signature of a source.Handler.
func (p *WorkerPool) Submit(ctx context.Context, ev source.Event) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.stopped.Load() {
		return ErrStopped
	}
	if !p.started.Load() {
		return ErrNotRunning
	}

	queue := p.queues[p.shard(ev.Key)]

	select {
	case queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shard picks a worker by key hash. Keyless events all go to the first
// worker so changes to one row keep their arrival order.
func (p *WorkerPool) shard(key []byte) int {
	if len(key) == 0 {
		return 0
	}
	return int(xxhash.Sum64(key) % uint64(len(p.queues)))
}

// QueueDepth returns the number of queued events across all workers
func (p *WorkerPool) QueueDepth() int {
	depth := 0
	for _, q := range p.queues {
		depth += len(q)
	}
	return depth
}

// Stop rejects new events, drains the queues, then waits for in-flight
// publish continuations until ctx is done.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started.Load() || p.stopped.Load() {
		return nil // Not running
	}

	log.Info().Int("queued", p.QueueDepth()).Msg("Stopping normalization worker pool")

	p.submitMu.Lock()
	p.stopped.Store(true)
	for _, q := range p.queues {
		close(q)
	}
	p.submitMu.Unlock()

	p.wg.Wait()

	err := p.config.Publisher.Drain(ctx)
	p.cancel()

	if err != nil {
		return err
	}

	log.Info().Msg("Normalization worker pool stopped")
	return nil
}

// work processes one queue until it is closed
func (p *WorkerPool) work(id int, queue <-chan source.Event) {
	defer p.wg.Done()

	for ev := range queue {
		p.process(ev)
	}

	log.Debug().Int("worker", id).Msg("Worker drained")
}

// process normalizes, filters and publishes one event
func (p *WorkerPool) process(ev source.Event) {
	telemetry.EventsReceivedTotal.Inc()

	res := p.config.Normalizer.Normalize(ev.Value)
	op := res.Message.OperationType

	if res.DecodeErr != nil {
		telemetry.NormalizeFallbackTotal.With("decode").Inc()
		log.Debug().
			Err(res.DecodeErr).
			Str("topic", ev.Topic).
			Int("bytes", len(ev.Value)).
			Msg("Undecodable change envelope, publishing as UNKNOWN")
	}
	if res.EncodeErr != nil {
		telemetry.NormalizeFallbackTotal.With("encode").Inc()
		log.Warn().
			Err(res.EncodeErr).
			Str("topic", ev.Topic).
			Msg("Failed to encode canonical message, publishing raw envelope")
	}

	src, hasSource := res.Envelope.Source()
	table := src.QualifiedTable()

	if hasSource && p.config.Filter != nil && !p.config.Filter.MatchSource(src) {
		telemetry.EventsFilteredTotal.Inc()
		p.record(table, op, true)
		return
	}

	telemetry.EventsNormalizedTotal.With(string(op)).Inc()
	p.record(table, op, false)

	p.config.Publisher.Publish(p.ctx, res.Key, res.Body, p.passthrough(ev.Headers)...)
}

func (p *WorkerPool) record(table string, op cdc.OperationType, filtered bool) {
	if p.config.Recorder != nil {
		p.config.Recorder.RecordEvent(table, op, filtered)
	}
}

// passthrough selects source headers for the output record
func (p *WorkerPool) passthrough(headers []source.Header) []publisher.Header {
	if p.config.Headers == nil || len(headers) == 0 {
		return nil
	}

	var out []publisher.Header
	for _, h := range headers {
		if p.config.Headers.Match(h.Key) {
			out = append(out, publisher.Header{Key: h.Key, Value: h.Value})
		}
	}
	return out
}
