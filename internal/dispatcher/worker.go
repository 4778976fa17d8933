package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/models"
	"github.com/fsotosa-ops/oasis-api/internal/rabbitmq"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

// Worker consumes dispatch jobs from the delivery queue and runs the
// dispatcher for each referenced event.
type Worker struct {
	cfg         *config.RabbitMQConfig
	conn        *rabbitmq.Connection
	events      *repository.EventRepository
	dispatcher  *Dispatcher
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

func NewWorker(
	cfg *config.RabbitMQConfig,
	conn *rabbitmq.Connection,
	events *repository.EventRepository,
	dispatcher *Dispatcher,
	logger *zap.Logger,
) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:         cfg,
		conn:        conn,
		events:      events,
		dispatcher:  dispatcher,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("webhook-dispatcher-%d", time.Now().Unix()),
	}
}

// Start registers the consumer and begins processing messages.
func (w *Worker) Start() error {
	if w.cfg.DeliveryQueue == "" {
		return fmt.Errorf("delivery queue is required")
	}

	if err := w.startConsuming(); err != nil {
		return err
	}

	w.started = true
	w.logger.Info("Dispatch worker started",
		zap.String("delivery_queue", w.cfg.DeliveryQueue),
		zap.String("consumer_tag", w.consumerTag),
	)
	return nil
}

func (w *Worker) startConsuming() error {
	if err := w.conn.SetQoS(w.cfg.PrefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := w.conn.Consume(w.cfg.DeliveryQueue, w.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", w.cfg.DeliveryQueue, err)
	}

	go w.processMessages(messages)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.logger.Info("Stopping dispatch worker",
		zap.String("consumer_tag", w.consumerTag),
	)
	w.cancel()

	if err := w.conn.CancelConsumer(w.consumerTag); err != nil {
		w.logger.Error("Failed to cancel consumer",
			zap.String("consumer_tag", w.consumerTag),
			zap.Error(err),
		)
	}

	w.logger.Info("Dispatch worker stopped")
	return nil
}

func (w *Worker) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("Worker context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				w.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("delivery_queue", w.cfg.DeliveryQueue),
				)
				// Keep retrying until the connection recovers or we stop
				for w.started {
					select {
					case <-w.ctx.Done():
						return
					default:
					}

					time.Sleep(2 * time.Second)

					if !w.conn.IsHealthy() {
						continue
					}

					if err := w.startConsuming(); err != nil {
						w.logger.Error("Failed to restart consuming after channel close, will retry",
							zap.String("delivery_queue", w.cfg.DeliveryQueue),
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}

					// New processing goroutine took over
					w.logger.Info("Successfully restarted consumer after channel close",
						zap.String("delivery_queue", w.cfg.DeliveryQueue),
					)
					return
				}
				return
			}
			w.handleDelivery(msg)
		}
	}
}

// handleDelivery processes one dispatch job. Bad messages are rejected
// without requeue; a shutdown mid-dispatch requeues so no job is dropped
// while its event still looks in-flight.
func (w *Worker) handleDelivery(msg amqp.Delivery) {
	var job models.DeliveryMessage
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		w.logger.Error("Failed to unmarshal delivery message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		w.reject(msg, false)
		return
	}

	eventID, err := uuid.Parse(job.EventID)
	if err != nil {
		w.logger.Error("Invalid event_id in delivery message",
			zap.String("event_id", job.EventID),
			zap.Error(err),
		)
		w.ack(msg)
		return
	}

	event, err := w.events.FindByID(w.ctx, eventID)
	if err != nil {
		w.logger.Error("Failed to load event for dispatch",
			zap.String("event_id", job.EventID),
			zap.Error(err),
		)
		w.reject(msg, true)
		return
	}
	if event == nil {
		w.logger.Warn("Event not found for dispatch, skipping",
			zap.String("event_id", job.EventID),
		)
		w.ack(msg)
		return
	}
	if models.IsTerminalEventStatus(event.Status) {
		// Duplicate job (sweep republish or broker redelivery)
		w.ack(msg)
		return
	}

	outcome := w.dispatcher.Dispatch(w.ctx, event)
	if outcome == OutcomeAborted {
		w.reject(msg, true)
		return
	}
	w.ack(msg)
}

func (w *Worker) ack(msg amqp.Delivery) {
	if err := msg.Ack(false); err != nil {
		w.logger.Error("Failed to ack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}

func (w *Worker) reject(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to nack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
