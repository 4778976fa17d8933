// Package dispatcher owns event delivery: it consumes dispatch jobs from the
// delivery queue, posts normalized events to the journey service with
// bounded retries and exponential backoff, and routes exhausted events to
// the dead letter queue.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/dlq"
	"github.com/fsotosa-ops/oasis-api/internal/models"
	"github.com/fsotosa-ops/oasis-api/internal/observability"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

// Outcome of a dispatch cycle for one event.
type Outcome string

const (
	// OutcomeDelivered: the journey service acknowledged the event.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeExhausted: every attempt failed; the event is in the DLQ.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeAborted: shutdown interrupted the cycle. The event keeps its
	// durable status and is re-driven by the recovery sweep.
	OutcomeAborted Outcome = "aborted"
)

type Dispatcher struct {
	cfg     *config.DispatcherConfig
	events  *repository.EventRepository
	dlq     *dlq.Manager
	client  *Client
	metrics *observability.Metrics
	logger  *zap.Logger
}

func New(
	cfg *config.DispatcherConfig,
	events *repository.EventRepository,
	dlqManager *dlq.Manager,
	client *Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		events:  events,
		dlq:     dlqManager,
		client:  client,
		metrics: metrics,
		logger:  logger,
	}
}

// Dispatch runs the full delivery cycle for one event: up to MaxAttempts
// posts with backoff between them, then terminal bookkeeping. The original
// caller was acknowledged long ago; failures here never surface to it.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.WebhookEvent) Outcome {
	if err := d.events.MarkProcessing(ctx, event.ID); err != nil {
		d.logger.Warn("Failed to mark event as processing",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.client.Send(ctx, event.NormalizedPayload)
		if err == nil {
			if markErr := d.events.MarkProcessed(ctx, event.ID); markErr != nil {
				d.logger.Warn("Failed to mark event as processed",
					zap.String("event_id", event.ID.String()),
					zap.Error(markErr),
				)
			}
			d.metrics.DispatchResults.WithLabelValues(string(OutcomeDelivered)).Inc()
			d.logger.Info("Event dispatched",
				zap.String("event_id", event.ID.String()),
				zap.String("provider", event.Provider),
				zap.Int("attempt", attempt),
			)
			return OutcomeDelivered
		}

		lastErr = err
		d.logger.Warn("Dispatch attempt failed",
			zap.String("event_id", event.ID.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.cfg.MaxAttempts),
			zap.Error(err),
		)

		if attempt == d.cfg.MaxAttempts {
			break
		}

		delay := BackoffDelay(attempt, d.cfg.InitialDelay, d.cfg.MaxDelay)
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
			delay = rateLimited.RetryAfter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("Dispatch interrupted by shutdown, leaving event for sweep",
				zap.String("event_id", event.ID.String()),
			)
			return OutcomeAborted
		case <-timer.C:
		}
	}

	if ctx.Err() != nil {
		return OutcomeAborted
	}

	errorMessage := "dispatch failed"
	if lastErr != nil {
		errorMessage = lastErr.Error()
	}

	if err := d.events.MarkFailed(ctx, event.ID, errorMessage); err != nil {
		d.logger.Error("Failed to mark event as failed",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}
	if _, err := d.dlq.Enqueue(ctx, event.ID, errorMessage); err != nil {
		d.logger.Error("Failed to enqueue event to DLQ",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	} else {
		d.metrics.DLQEnqueued.Inc()
	}

	d.metrics.DispatchResults.WithLabelValues(string(OutcomeExhausted)).Inc()
	d.logger.Error("Event exhausted its dispatch budget",
		zap.String("event_id", event.ID.String()),
		zap.String("provider", event.Provider),
		zap.Int("attempts", d.cfg.MaxAttempts),
		zap.String("last_error", errorMessage),
	)
	return OutcomeExhausted
}

// Redeliver performs a single delivery attempt for a DLQ re-drive. The DLQ
// manager owns the surrounding bookkeeping.
func (d *Dispatcher) Redeliver(ctx context.Context, event *models.WebhookEvent) error {
	return d.client.Send(ctx, event.NormalizedPayload)
}
