package source

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(events *[]Event) Handler {
	return func(_ context.Context, ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestReaderSource(t *testing.T) {
	input := strings.Join([]string{
		`{"op":"c","after":{"ID":"21","NAME":"x"}}`,
		``,
		`   `,
		`{"op":"d","before":{"ID":"7"}}`,
		`not json`,
	}, "\n")

	var events []Event
	err := NewReaderSource(strings.NewReader(input)).Run(context.Background(), collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, `{"op":"c","after":{"ID":"21","NAME":"x"}}`, string(events[0].Value))
	assert.Equal(t, `{"op":"d","before":{"ID":"7"}}`, string(events[1].Value))
	assert.Equal(t, `not json`, string(events[2].Value))
	for _, ev := range events {
		assert.Equal(t, ReaderTopic, ev.Topic)
		assert.Nil(t, ev.Key)
	}
}

func TestReaderSourceEventsOwnTheirBytes(t *testing.T) {
	var events []Event
	err := NewReaderSource(strings.NewReader("{\"a\":1}\n{\"b\":2}\n")).Run(context.Background(), collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, string(events[0].Value))
	assert.Equal(t, `{"b":2}`, string(events[1].Value))
}

func TestReaderSourceHandlerError(t *testing.T) {
	boom := errors.New("queue closed")

	calls := 0
	err := NewReaderSource(strings.NewReader("{}\n{}\n{}\n")).Run(context.Background(), func(context.Context, Event) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestReaderSourceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := NewReaderSource(strings.NewReader("{}\n{}\n{}\n")).Run(ctx, func(context.Context, Event) error {
		calls++
		cancel()
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReaderSourceLineTooLong(t *testing.T) {
	long := strings.Repeat("x", MaxLineBytes+1)

	err := NewReaderSource(strings.NewReader(long)).Run(context.Background(), func(context.Context, Event) error {
		return nil
	})
	assert.Error(t, err)
}

func TestKafkaEvent(t *testing.T) {
	ev := kafkaEvent(kafka.Message{
		Topic: "oracle.INVENTORY.ORDERS",
		Key:   []byte(`{"ID":"21"}`),
		Value: []byte(`{"op":"c"}`),
		Headers: []kafka.Header{
			{Key: "special-tenant", Value: []byte("acme")},
			{Key: "__debezium.context.connectorName", Value: []byte("oracle")},
		},
	})

	assert.Equal(t, "oracle.INVENTORY.ORDERS", ev.Topic)
	assert.Equal(t, []byte(`{"ID":"21"}`), ev.Key)
	assert.Equal(t, []byte(`{"op":"c"}`), ev.Value)
	assert.Equal(t, []Header{
		{Key: "special-tenant", Value: "acme"},
		{Key: "__debezium.context.connectorName", Value: "oracle"},
	}, ev.Headers)
}

func TestNewKafkaSourceValidation(t *testing.T) {
	_, err := NewKafkaSource(KafkaConfig{Topics: []string{"cdc.raw"}, GroupID: "g"})
	assert.Error(t, err)

	_, err = NewKafkaSource(KafkaConfig{Brokers: []string{"localhost:29092"}, GroupID: "g"})
	assert.Error(t, err)

	_, err = NewKafkaSource(KafkaConfig{Brokers: []string{"localhost:29092"}, Topics: []string{"cdc.raw"}})
	assert.Error(t, err)
}

func TestNewNatsSourceValidation(t *testing.T) {
	_, err := NewNatsSource(NatsConfig{Stream: "CDC_RAW", Durable: "relay"})
	assert.Error(t, err)

	_, err = NewNatsSource(NatsConfig{URL: "nats://localhost:4222", Durable: "relay"})
	assert.Error(t, err)

	_, err = NewNatsSource(NatsConfig{URL: "nats://localhost:4222", Stream: "CDC_RAW"})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	assert.Subset(t, Types(), []string{"kafka", "nats", "stdin"})

	src, err := New(&cfg.Configuration{Source: cfg.SourceConfiguration{Type: cfg.SourceStdin}})
	require.NoError(t, err)
	assert.IsType(t, &ReaderSource{}, src)
	assert.NoError(t, src.Close())

	_, err = New(&cfg.Configuration{Source: cfg.SourceConfiguration{Type: "carrier-pigeon"}})
	assert.Error(t, err)
}
