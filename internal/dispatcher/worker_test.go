package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/models"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

// fakeAcknowledger records the broker acknowledgment for one delivery.
type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func newTestWorker(t *testing.T, url string) (*Worker, *repository.EventRepository) {
	t.Helper()

	d, events, _ := newTestDispatcher(t, url)
	cfg := &config.RabbitMQConfig{DeliveryQueue: "webhook.delivery"}
	return NewWorker(cfg, nil, events, d, zap.NewNop()), events
}

func delivery(ack *fakeAcknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body)}
}

func TestHandleDeliveryDispatchesAndAcks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	worker, events := newTestWorker(t, server.URL)
	event := seedDispatchEvent(t, events)

	ack := &fakeAcknowledger{}
	worker.handleDelivery(delivery(ack, `{"event_id":"`+event.ID.String()+`"}`))

	assert.True(t, ack.acked)

	stored, err := events.FindByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, stored.Status)
}

func TestHandleDeliveryRejectsBadJSON(t *testing.T) {
	worker, _ := newTestWorker(t, "http://unused")

	ack := &fakeAcknowledger{}
	worker.handleDelivery(delivery(ack, `{not json`))

	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue, "poison messages must not requeue")
}

func TestHandleDeliveryAcksInvalidEventID(t *testing.T) {
	worker, _ := newTestWorker(t, "http://unused")

	ack := &fakeAcknowledger{}
	worker.handleDelivery(delivery(ack, `{"event_id":"not-a-uuid"}`))

	assert.True(t, ack.acked)
}

func TestHandleDeliveryAcksMissingEvent(t *testing.T) {
	worker, _ := newTestWorker(t, "http://unused")

	ack := &fakeAcknowledger{}
	worker.handleDelivery(delivery(ack, `{"event_id":"6a0f0b9c-0000-4000-8000-000000000000"}`))

	assert.True(t, ack.acked)
}

func TestHandleDeliverySkipsTerminalEvent(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	worker, events := newTestWorker(t, server.URL)
	event := seedDispatchEvent(t, events)
	require.NoError(t, events.MarkProcessed(context.Background(), event.ID))

	ack := &fakeAcknowledger{}
	worker.handleDelivery(delivery(ack, `{"event_id":"`+event.ID.String()+`"}`))

	assert.True(t, ack.acked)
	assert.Zero(t, requests, "already-processed events are not redelivered")
}

func TestWorkerStartRequiresQueue(t *testing.T) {
	d, events, _ := newTestDispatcher(t, "http://unused")
	worker := NewWorker(&config.RabbitMQConfig{}, nil, events, d, zap.NewNop())

	assert.Error(t, worker.Start())
}
