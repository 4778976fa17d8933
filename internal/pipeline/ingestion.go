// Package pipeline orchestrates webhook ingestion: resolve the provider,
// verify the signature over the raw bytes, normalize, persist durably, then
// hand the event id to the delivery queue and acknowledge. Dispatch happens
// in the background; persistence is the resilience boundary.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fsotosa-ops/oasis-api/internal/apierr"
	"github.com/fsotosa-ops/oasis-api/internal/models"
	"github.com/fsotosa-ops/oasis-api/internal/observability"
	"github.com/fsotosa-ops/oasis-api/internal/providers"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

// DeliveryQueue hands a persisted event to the background dispatcher.
type DeliveryQueue interface {
	PublishEvent(eventID uuid.UUID) error
}

// Receipt is the acknowledgment returned to the provider.
type Receipt struct {
	TraceID   string `json:"trace_id"`
	Provider  string `json:"provider"`
	EventType string `json:"event_type"`

	// Duplicate marks a redelivery that matched an existing event. The
	// provider gets the same acknowledgment either way; no second dispatch
	// is scheduled.
	Duplicate bool `json:"-"`
}

type Pipeline struct {
	registry *providers.Registry
	events   *repository.EventRepository
	queue    DeliveryQueue
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func New(
	registry *providers.Registry,
	events *repository.EventRepository,
	queue DeliveryQueue,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		registry: registry,
		events:   events,
		queue:    queue,
		metrics:  metrics,
		logger:   logger,
	}
}

// Ingest runs the synchronous ingestion path for one request. header gives
// access to the inbound request headers; body is the raw, unparsed bytes.
// Every failure maps to a distinct API error; verification failures persist
// nothing.
func (p *Pipeline) Ingest(ctx context.Context, providerName string, header func(string) string, body []byte) (*Receipt, error) {
	descriptor, ok := p.registry.Resolve(providerName)
	if !ok {
		p.logger.Warn("Unknown webhook provider requested",
			zap.String("provider", providerName),
		)
		p.metrics.EventsRejected.WithLabelValues(providerName, "provider_not_found").Inc()
		return nil, apierr.NotFound(apierr.CodeProviderNotFound,
			fmt.Sprintf("provider %s (available: %s) not found",
				providerName, strings.Join(p.registry.Names(), ", ")))
	}

	name := descriptor.Name()

	if !descriptor.Configured() {
		p.logger.Error("Webhook provider has no configured secret",
			zap.String("provider", name),
		)
		p.metrics.EventsRejected.WithLabelValues(name, "not_configured").Inc()
		return nil, apierr.Conflict(apierr.CodeProviderNotConfigured,
			fmt.Sprintf("provider '%s' not configured. Set WEBHOOK_%s_SECRET.",
				name, strings.ToUpper(name)))
	}

	signature := header(descriptor.SignatureHeader())
	if !descriptor.Verify(body, signature, descriptor.Secret()) {
		p.logger.Warn("Invalid webhook signature",
			zap.String("provider", name),
		)
		p.metrics.EventsRejected.WithLabelValues(name, "invalid_signature").Inc()
		return nil, apierr.Unauthorized("invalid webhook signature")
	}

	normalized, err := descriptor.Normalize(body)
	if err != nil {
		p.logger.Error("Failed to normalize webhook payload",
			zap.String("provider", name),
			zap.Error(err),
		)
		p.metrics.EventsRejected.WithLabelValues(name, "malformed_payload").Inc()
		return nil, apierr.BadRequest(apierr.CodeInvalidPayload, "invalid payload format")
	}

	// Idempotency: a provider retry storm must not create a second event or
	// a second dispatch for the same (provider, external_id).
	if normalized.ExternalID != "" {
		existing, err := p.events.FindByExternalID(ctx, name, normalized.ExternalID)
		if err != nil {
			return nil, apierr.Internal("failed to check event idempotency")
		}
		if existing != nil {
			p.logger.Info("Duplicate webhook delivery, returning existing event",
				zap.String("provider", name),
				zap.String("external_id", normalized.ExternalID),
			)
			return &Receipt{
				TraceID:   existing.ID.String(),
				Provider:  name,
				EventType: existing.EventType,
				Duplicate: true,
			}, nil
		}
	}

	normalizedJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, apierr.Internal("failed to encode normalized event")
	}

	event := &models.WebhookEvent{
		Provider:          name,
		ExternalID:        externalIDOrNil(normalized.ExternalID),
		EventType:         normalized.EventType,
		RawPayload:        datatypes.JSON(body),
		NormalizedPayload: datatypes.JSON(normalizedJSON),
		UserIdentifier:    normalized.UserIdentifier,
		OrganizationID:    normalized.OrganizationID,
	}

	event, created, err := p.events.Create(ctx, event)
	if err != nil {
		// Surfacing a server error makes the provider's own retry mechanism
		// redeliver the webhook; nothing is silently dropped.
		p.logger.Error("Failed to persist webhook event",
			zap.String("provider", name),
			zap.Error(err),
		)
		return nil, apierr.Internal("failed to persist webhook event")
	}

	if !created {
		// Lost the insert race against a concurrent duplicate delivery
		return &Receipt{
			TraceID:   event.ID.String(),
			Provider:  name,
			EventType: event.EventType,
			Duplicate: true,
		}, nil
	}

	p.metrics.EventsReceived.WithLabelValues(name).Inc()
	p.logger.Info("Webhook event persisted",
		zap.String("event_id", event.ID.String()),
		zap.String("provider", name),
		zap.String("event_type", event.EventType),
	)

	// Queue handoff is best-effort: the event is already durable and the
	// recovery sweep republishes anything that never reached a worker.
	if err := p.queue.PublishEvent(event.ID); err != nil {
		p.logger.Warn("Failed to publish dispatch job, sweep will recover",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}

	return &Receipt{
		TraceID:   event.ID.String(),
		Provider:  name,
		EventType: event.EventType,
	}, nil
}

func externalIDOrNil(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
