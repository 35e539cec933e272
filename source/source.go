package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maxpert/cdcrelay/cfg"
)

// Header is a single source message annotation
type Header struct {
	Key   string
	Value string
}

// Event is one raw change envelope as delivered by a source
type Event struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []Header
}

// Handler receives events one at a time. Returning nil hands the event off and
// lets the source advance its position; returning an error stops the source
// without acknowledging the event.
type Handler func(ctx context.Context, ev Event) error

// Source pushes raw change envelopes to a Handler
type Source interface {
	// Run delivers events until ctx is done, the input ends, or the handler fails.
	// Cancellation is a clean stop and returns nil.
	Run(ctx context.Context, h Handler) error
	// Close releases any resources held by the source
	Close() error
}

// Factory creates a Source from configuration
type Factory func(*cfg.Configuration) (Source, error)

var (
	factories = make(map[cfg.SourceType]Factory)
	factoryMu sync.RWMutex
)

// Register registers a source factory for a type
func Register(sourceType cfg.SourceType, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[sourceType] = factory
}

// New creates a source of the configured type
func New(config *cfg.Configuration) (Source, error) {
	factoryMu.RLock()
	factory, exists := factories[config.Source.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown source type: %s", config.Source.Type)
	}

	return factory(config)
}

// Types lists registered source types in sorted order
func Types() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}
