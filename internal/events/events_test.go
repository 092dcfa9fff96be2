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
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	ev := New(SaleCreated, "sale:7", "cashier", at, map[string]int64{"sale_id": 7})
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "sale:7", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, SaleCreated, string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, SaleCreated, decoded["type"])
	assert.Equal(t, "cashier", decoded["actor"])
	assert.Equal(t, ev.ID, decoded["id"])
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}}

	err := p.Publish(context.Background(), New(StockAdded, "product:1", "", time.Now(), nil))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), StockAdded)
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	a := New(StockAdded, "product:1", "", time.Now(), nil)
	b := New(StockAdded, "product:1", "", time.Now(), nil)
	assert.NotEqual(t, a.ID, b.ID)
}
