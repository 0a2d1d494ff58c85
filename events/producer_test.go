package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/reservation-service/models"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish_KeysAndHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "reservation-events", logger: zap.NewNop()}

	evt := models.DomainEvent{
		Type:      models.EventOrderSettled,
		Key:       "ord-1",
		OrderID:   "o-1",
		Total:     2500,
		Currency:  "INR",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), evt))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "ord-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, models.EventOrderSettled, string(msg.Headers[0].Value))

	var decoded models.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "o-1", decoded.OrderID)
	assert.Equal(t, int64(2500), decoded.Total)
}

func TestPublish_WriteError(t *testing.T) {
	cause := errors.New("leader not available")
	p := &Producer{writer: &fakeWriter{err: cause}, topic: "t", logger: zap.NewNop()}

	err := p.Publish(context.Background(), models.DomainEvent{Type: models.EventStockSwept, Key: "variant:v-1"})
	assert.ErrorIs(t, err, cause)
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "t", logger: zap.NewNop()}

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
