package publisher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/rs/zerolog/log"
)

// Registry owns the output and dead-letter sinks and the Publisher built on them
type Registry struct {
	publisher  *Publisher
	deadLetter *SinkDeadLetter
	sinks      []Sink
	closed     atomic.Bool
	mu         sync.Mutex
}

// NewRegistry builds sinks and the Publisher from configuration. When the
// output and dead-letter sinks share a type, one sink instance serves both.
func NewRegistry(config *cfg.Configuration) (*Registry, error) {
	if config == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	registry := &Registry{}

	outSink, err := NewSink(config.Output.Sink, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create output sink %q: %w", config.Output.Sink, err)
	}
	registry.sinks = append(registry.sinks, outSink)

	dlSink := outSink
	if dlType := config.DeadLetterSinkType(); dlType != config.Output.Sink {
		dlSink, err = NewSink(dlType, config)
		if err != nil {
			registry.closeSinks()
			return nil, fmt.Errorf("failed to create dead-letter sink %q: %w", dlType, err)
		}
		registry.sinks = append(registry.sinks, dlSink)
	}

	instance := Header{Key: HeaderRelayInstance, Value: config.InstanceID}
	contentType := Header{Key: HeaderContentType, Value: ContentTypeJSON}

	registry.deadLetter, err = NewSinkDeadLetter(dlSink, config.Output.DeadLetterTopic, contentType, instance)
	if err != nil {
		registry.closeSinks()
		return nil, err
	}

	registry.publisher, err = NewPublisher(Config{
		Topic:      config.Output.Topic,
		Sink:       outSink,
		DeadLetter: registry.deadLetter,
		Headers:    []Header{contentType, instance},
	})
	if err != nil {
		registry.closeSinks()
		return nil, err
	}

	log.Info().
		Str("topic", config.Output.Topic).
		Str("sink", config.Output.Sink).
		Str("dead_letter_topic", config.Output.DeadLetterTopic).
		Str("dead_letter_sink", config.DeadLetterSinkType()).
		Msg("Publisher registry initialized")

	return registry, nil
}

// Publisher returns the configured Publisher
func (r *Registry) Publisher() *Publisher {
	return r.publisher
}

// DeadLetter returns the configured dead-letter channel
func (r *Registry) DeadLetter() *SinkDeadLetter {
	return r.deadLetter
}

// Close drains in-flight publishes and closes all sinks
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Swap(true) {
		return nil // Already closed
	}

	log.Info().Msg("Closing publisher registry")

	drainErr := r.publisher.Drain(ctx)
	if drainErr != nil {
		log.Warn().Err(drainErr).Msg("Closing sinks with publishes in flight")
	}

	r.closeSinks()

	log.Info().Msg("Publisher registry closed")
	return drainErr
}

func (r *Registry) closeSinks() {
	for _, snk := range r.sinks {
		if err := snk.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sink")
		}
	}
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(*cfg.Configuration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// NewSink creates a sink of the registered type
func NewSink(sinkType string, config *cfg.Configuration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[sinkType]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", sinkType)
	}

	return factory(config)
}

// SinkTypes lists registered sink types in sorted order
func SinkTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(sinkFactories))
	for t := range sinkFactories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
