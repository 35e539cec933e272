// Package publisher delivers canonical change messages to an output topic and
// guarantees that failed publishes are redirected to a dead-letter channel.
//
// # Architecture
//
// The package consists of four parts:
//
// 1. Sink: a non-blocking broker client returning a future per record
// 2. Publisher: attaches a completion continuation to every publish
// 3. DeadLetterChannel: receives annotated records when a publish fails
// 4. Filters: glob-based table and header selection
//
// # Publishing
//
// Publish returns as soon as the sink has accepted the record. A goroutine
// waits for the sink's future and runs the continuation exactly once:
//
//	fut := pub.Publish(ctx, res.Key, res.Body)
//	outcome, _ := fut.Get() // optional, callers normally do not wait
//
// On failure the continuation builds a DeadLetterRecord carrying
//
//	x-error-class     Go type of the root cause, e.g. "kafka.Error"
//	x-error-message   err.Error(), "" when empty
//	x-original-topic  the output topic
//
// and hands it to the dead-letter channel. There is no retry loop here;
// retries belong to the broker client configuration. A failed dead-letter
// delivery is logged and counted, never retried.
//
// # Shutdown
//
// Drain blocks until every registered continuation has run. Stop producers
// before draining.
//
// # Thread Safety
//
// Publisher, SinkDeadLetter and the filters are safe for concurrent use.
// Sink implementations must be safe for concurrent Publish calls.
package publisher
