package publisher_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/cdcrelay/cdc"
	"github.com/maxpert/cdcrelay/publisher"
	"github.com/maxpert/cdcrelay/publisher/sink"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	outTopic = "cdc.out"
	dltTopic = "cdc.out.dlt"
)

func newTestPublisher(t *testing.T, out *sink.MockSink, dlt publisher.DeadLetterChannel) *publisher.Publisher {
	t.Helper()
	pub, err := publisher.NewPublisher(publisher.Config{
		Topic:      outTopic,
		Sink:       out,
		DeadLetter: dlt,
		Headers:    []publisher.Header{{Key: publisher.HeaderContentType, Value: publisher.ContentTypeJSON}},
	})
	require.NoError(t, err)
	return pub
}

func newSinkDeadLetter(t *testing.T, snk publisher.Sink) *publisher.SinkDeadLetter {
	t.Helper()
	dl, err := publisher.NewSinkDeadLetter(snk, dltTopic)
	require.NoError(t, err)
	return dl
}

func TestNewPublisherValidation(t *testing.T) {
	mock := &sink.MockSink{}
	dl := publisher.DeadLetterFunc(func(context.Context, publisher.DeadLetterRecord) error { return nil })

	_, err := publisher.NewPublisher(publisher.Config{Sink: mock, DeadLetter: dl})
	assert.Error(t, err)

	_, err = publisher.NewPublisher(publisher.Config{Topic: outTopic, DeadLetter: dl})
	assert.Error(t, err)

	_, err = publisher.NewPublisher(publisher.Config{Topic: outTopic, Sink: mock})
	assert.Error(t, err)

	pub, err := publisher.NewPublisher(publisher.Config{Topic: outTopic, Sink: mock, DeadLetter: dl})
	require.NoError(t, err)
	assert.Equal(t, outTopic, pub.Topic())
}

func TestPublishSuccess(t *testing.T) {
	mock := &sink.MockSink{}
	pub := newTestPublisher(t, mock, newSinkDeadLetter(t, mock))

	body := []byte(`{"data":{"op":"c","after":{"ID":"21"}},"operationType":"CREATE"}`)
	outcome, err := pub.Publish(context.Background(), cdc.KeyOf("21"), body,
		publisher.Header{Key: "special-tenant", Value: "acme"}).Get()
	require.NoError(t, err)

	assert.False(t, outcome.Failed())
	assert.Nil(t, outcome.DeadLetter)
	assert.Equal(t, outTopic, outcome.Delivery.Topic)

	published := mock.PublishedTo(outTopic)
	require.Len(t, published, 1)
	assert.Equal(t, []byte("21"), published[0].Key)
	assert.Equal(t, body, published[0].Value)

	ct, ok := published[0].Header(publisher.HeaderContentType)
	assert.True(t, ok)
	assert.Equal(t, publisher.ContentTypeJSON, ct)

	tenant, ok := published[0].Header("special-tenant")
	assert.True(t, ok)
	assert.Equal(t, "acme", tenant)

	assert.Empty(t, mock.PublishedTo(dltTopic))
}

func TestPublishWithoutKey(t *testing.T) {
	mock := &sink.MockSink{}
	pub := newTestPublisher(t, mock, newSinkDeadLetter(t, mock))

	_, err := pub.Publish(context.Background(), cdc.RoutingKey{}, []byte(`{}`)).Get()
	require.NoError(t, err)

	published := mock.PublishedTo(outTopic)
	require.Len(t, published, 1)
	assert.Nil(t, published[0].Key)
}

func TestPublishFailureRedirectsToDeadLetter(t *testing.T) {
	brokerErr := errors.New("timeout")
	out := &sink.MockSink{PublishErr: brokerErr}
	dlt := &sink.MockSink{}
	pub := newTestPublisher(t, out, newSinkDeadLetter(t, dlt))

	body := []byte(`{"data":{"op":"u","after":{"ID":"9"}},"operationType":"UPDATE"}`)
	outcome, err := pub.Publish(context.Background(), cdc.KeyOf("9"), body).Get()
	require.NoError(t, err)

	assert.True(t, outcome.Failed())
	assert.ErrorIs(t, outcome.Err, brokerErr)
	require.NotNil(t, outcome.DeadLetter)
	assert.NoError(t, outcome.DeadLetterErr)

	assert.Equal(t, fmt.Sprintf("%T", brokerErr), outcome.DeadLetter.ErrorClass)
	assert.Equal(t, "timeout", outcome.DeadLetter.ErrorMessage)
	assert.Equal(t, outTopic, outcome.DeadLetter.OriginalTopic)

	dead := dlt.PublishedTo(dltTopic)
	require.Len(t, dead, 1)
	assert.Equal(t, body, dead[0].Value)
	assert.Equal(t, []byte("9"), dead[0].Key)

	class, _ := dead[0].Header(publisher.HeaderErrorClass)
	msg, _ := dead[0].Header(publisher.HeaderErrorMessage)
	topic, _ := dead[0].Header(publisher.HeaderOriginalTopic)
	assert.Equal(t, "*errors.errorString", class)
	assert.Equal(t, "timeout", msg)
	assert.Equal(t, outTopic, topic)
}

func TestPublishFailureReportsRootCauseType(t *testing.T) {
	out := &sink.MockSink{PublishErr: fmt.Errorf("write batch: %w", kafka.RequestTimedOut)}
	dlt := &sink.MockSink{}
	pub := newTestPublisher(t, out, newSinkDeadLetter(t, dlt))

	outcome, err := pub.Publish(context.Background(), cdc.KeyOf("1"), []byte(`{}`)).Get()
	require.NoError(t, err)
	require.NotNil(t, outcome.DeadLetter)

	assert.Equal(t, "kafka.Error", outcome.DeadLetter.ErrorClass)
	assert.Equal(t, "write batch: "+kafka.RequestTimedOut.Error(), outcome.DeadLetter.ErrorMessage)
}

func TestPublishFailureWithEmptyMessage(t *testing.T) {
	out := &sink.MockSink{PublishErr: errors.New("")}
	var got publisher.DeadLetterRecord
	dl := publisher.DeadLetterFunc(func(_ context.Context, rec publisher.DeadLetterRecord) error {
		got = rec
		return nil
	})
	pub := newTestPublisher(t, out, dl)

	_, err := pub.Publish(context.Background(), cdc.KeyOf("1"), []byte(`{}`)).Get()
	require.NoError(t, err)

	assert.Equal(t, "", got.ErrorMessage)
	assert.NotEmpty(t, got.ErrorClass)
	assert.Equal(t, outTopic, got.OriginalTopic)
}

func TestDeadLetterFailureIsReportedNotRetried(t *testing.T) {
	dltErr := errors.New("dead-letter topic unavailable")
	mock := &sink.MockSink{TopicErrs: map[string]error{
		outTopic: errors.New("timeout"),
		dltTopic: dltErr,
	}}
	pub := newTestPublisher(t, mock, newSinkDeadLetter(t, mock))

	outcome, err := pub.Publish(context.Background(), cdc.KeyOf("1"), []byte(`{}`)).Get()
	require.NoError(t, err)

	assert.True(t, outcome.Failed())
	assert.ErrorIs(t, outcome.DeadLetterErr, dltErr)
	assert.Empty(t, mock.Published())
}

func TestDeadLetterSurvivesCanceledContext(t *testing.T) {
	out := &sink.MockSink{PublishErr: errors.New("timeout"), Hold: true}
	var delivered bool
	dl := publisher.DeadLetterFunc(func(ctx context.Context, rec publisher.DeadLetterRecord) error {
		delivered = ctx.Err() == nil
		return nil
	})
	pub := newTestPublisher(t, out, dl)

	ctx, cancel := context.WithCancel(context.Background())
	fut := pub.Publish(ctx, cdc.KeyOf("1"), []byte(`{}`))
	cancel()
	out.Release()

	_, err := fut.Get()
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestPublishReturnsBeforeAcknowledgment(t *testing.T) {
	out := &sink.MockSink{Hold: true}
	pub := newTestPublisher(t, out, newSinkDeadLetter(t, out))

	fut := pub.Publish(context.Background(), cdc.KeyOf("1"), []byte(`{}`))

	resolved := make(chan publisher.Outcome, 1)
	go func() {
		outcome, _ := fut.Get()
		resolved <- outcome
	}()

	select {
	case <-resolved:
		t.Fatal("outcome resolved before broker acknowledgment")
	case <-time.After(20 * time.Millisecond):
	}

	out.Release()

	select {
	case outcome := <-resolved:
		assert.False(t, outcome.Failed())
	case <-time.After(time.Second):
		t.Fatal("outcome not resolved after acknowledgment")
	}
}

func TestContinuationRunsExactlyOnce(t *testing.T) {
	out := &sink.MockSink{PublishErr: errors.New("timeout")}

	var mu sync.Mutex
	calls := 0
	dl := publisher.DeadLetterFunc(func(context.Context, publisher.DeadLetterRecord) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	pub := newTestPublisher(t, out, dl)

	const n = 50
	for i := 0; i < n; i++ {
		pub.Publish(context.Background(), cdc.KeyOf(fmt.Sprint(i)), []byte(`{}`))
	}

	require.NoError(t, pub.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n, calls)
}

func TestDrainWaitsForInflight(t *testing.T) {
	out := &sink.MockSink{Hold: true}
	pub := newTestPublisher(t, out, newSinkDeadLetter(t, out))

	pub.Publish(context.Background(), cdc.KeyOf("1"), []byte(`{}`))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pub.Drain(ctx))

	out.Release()
	assert.NoError(t, pub.Drain(context.Background()))
}

func TestSinkDeadLetterValidation(t *testing.T) {
	_, err := publisher.NewSinkDeadLetter(nil, dltTopic)
	assert.Error(t, err)

	_, err = publisher.NewSinkDeadLetter(&sink.MockSink{}, "")
	assert.Error(t, err)
}

func TestSinkDeadLetterHeaders(t *testing.T) {
	mock := &sink.MockSink{}
	dl, err := publisher.NewSinkDeadLetter(mock, dltTopic,
		publisher.Header{Key: publisher.HeaderRelayInstance, Value: "relay-1"})
	require.NoError(t, err)
	assert.Equal(t, dltTopic, dl.Topic())

	_, err = dl.Deliver(context.Background(), publisher.DeadLetterRecord{
		Value:         []byte(`{}`),
		ErrorClass:    "kafka.Error",
		ErrorMessage:  "Request Timed Out",
		OriginalTopic: outTopic,
	}).Get()
	require.NoError(t, err)

	dead := mock.PublishedTo(dltTopic)
	require.Len(t, dead, 1)
	assert.Equal(t, []publisher.Header{
		{Key: "x-error-class", Value: "kafka.Error"},
		{Key: "x-error-message", Value: "Request Timed Out"},
		{Key: "x-original-topic", Value: outTopic},
		{Key: "x-relay-instance", Value: "relay-1"},
	}, dead[0].Headers)
}
