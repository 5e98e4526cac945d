package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaRelay_WritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	relay := &KafkaRelay{writer: writer}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := domain.NewStockChangedEvent(at, domain.StockItem{SKU: "9090", Quantity: 47, Version: 3})

	require.NoError(t, relay.Handle(context.Background(), event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "9090", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "event-kind", Value: []byte("stock.changed")},
		{Key: "event-id", Value: []byte(event.ID.String())},
	}, msg.Headers)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	require.NotNil(t, decoded.Stock)
	assert.Equal(t, 47, decoded.Stock.NewQuantity)
	assert.Equal(t, int64(3), decoded.Stock.Version)
}

func TestKafkaRelay_ReservationEventKeyedBySKU(t *testing.T) {
	writer := &fakeWriter{}
	relay := &KafkaRelay{writer: writer}
	r := domain.Reservation{ID: "r1", SKU: "1234", Quantity: 2, StoreID: "store1", Status: domain.ReservationStatusPending}

	require.NoError(t, relay.Handle(context.Background(), domain.NewReservationEvent(domain.EventReservationCreated, time.Now(), r)))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "1234", string(writer.messages[0].Key))
}

func TestKafkaRelay_ReturnsWriteError(t *testing.T) {
	brokerDown := errors.New("broker down")
	relay := &KafkaRelay{writer: &fakeWriter{err: brokerDown}}
	event := domain.NewStockChangedEvent(time.Now(), domain.StockItem{SKU: "9090"})

	err := relay.Handle(context.Background(), event)

	assert.ErrorIs(t, err, brokerDown)
}

func TestKafkaRelay_Close(t *testing.T) {
	writer := &fakeWriter{}
	relay := &KafkaRelay{writer: writer}

	require.NoError(t, relay.Close())
	assert.True(t, writer.closed)
}

func TestNewKafkaRelay_DefaultTopic(t *testing.T) {
	relay := NewKafkaRelay([]string{"localhost:9092"}, "")

	writer, ok := relay.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, writer.Topic)
}
