package sink

import (
	"context"
	"sync"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/publisher"
)

func init() {
	publisher.RegisterSink("mock", func(*cfg.Configuration) (publisher.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink is a mock implementation of Sink for testing.
// Futures resolve before Publish returns unless Hold is set.
type MockSink struct {
	Messages   []publisher.Record
	PublishErr error            // Fails every publish
	TopicErrs  map[string]error // Fails publishes to specific topics
	Hold       bool             // Keep futures pending until Release
	closed     bool
	pending    []pendingResult
	mu         sync.Mutex
}

type pendingResult struct {
	promise  *future.Promise[publisher.Delivery]
	delivery publisher.Delivery
	err      error
}

// Publish records a message for later inspection in tests
func (m *MockSink) Publish(_ context.Context, rec publisher.Record) *future.Future[publisher.Delivery] {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.PublishErr
	if topicErr, ok := m.TopicErrs[rec.Topic]; ok && err == nil {
		err = topicErr
	}

	var delivery publisher.Delivery
	if err == nil {
		m.Messages = append(m.Messages, rec)
		delivery = publisher.Delivery{
			Topic:  rec.Topic,
			Offset: int64(len(m.Messages) - 1),
		}
	}

	p := future.NewPromise[publisher.Delivery]()
	if m.Hold {
		m.pending = append(m.pending, pendingResult{promise: p, delivery: delivery, err: err})
	} else {
		p.Set(delivery, err)
	}

	return p.Future()
}

// Release resolves all held futures in publish order
func (m *MockSink) Release() int {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, r := range pending {
		r.promise.Set(r.delivery, r.err)
	}
	return len(pending)
}

// Published returns a copy of the records accepted so far
func (m *MockSink) Published() []publisher.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publisher.Record(nil), m.Messages...)
}

// PublishedTo returns accepted records for one topic
func (m *MockSink) PublishedTo(topic string) []publisher.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []publisher.Record
	for _, rec := range m.Messages {
		if rec.Topic == topic {
			out = append(out, rec)
		}
	}
	return out
}

// Close marks the sink closed
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears recorded messages and the closed flag
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.closed = false
}
