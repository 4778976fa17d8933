// Package repository is the durable event store. An event row is the
// resilience boundary: it is committed before the webhook is acknowledged,
// and all later status changes are single-row forward-only updates.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fsotosa-ops/oasis-api/internal/models"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create persists a new webhook event with status 'received'. When another
// request already stored the same (provider, external_id) pair, the existing
// row is returned with created=false — the unique index makes concurrent
// duplicate deliveries safe without a global lock.
func (r *EventRepository) Create(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = models.EventStatusReceived
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Create(event).Error
	if err == nil {
		return event, true, nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) && event.ExternalID != nil {
		existing, findErr := r.FindByExternalID(ctx, event.Provider, *event.ExternalID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	return nil, false, fmt.Errorf("failed to create webhook event: %w", err)
}

// FindByID loads an event by its primary key. Returns nil when not found.
func (r *EventRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return &event, nil
}

// FindByExternalID is the idempotency lookup. Returns nil when no event with
// the (provider, external_id) key exists.
func (r *EventRepository) FindByExternalID(ctx context.Context, provider, externalID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up event by external id: %w", err)
	}
	return &event, nil
}

// MarkProcessing moves an event into 'processing'. A no-op when the event
// already reached a terminal status.
func (r *EventRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, models.EventStatusProcessing, map[string]interface{}{
		"status": models.EventStatusProcessing,
	}, []string{models.EventStatusReceived})
}

// MarkProcessed records terminal success and stamps processed_at.
func (r *EventRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.transition(ctx, id, models.EventStatusProcessed, map[string]interface{}{
		"status":       models.EventStatusProcessed,
		"processed_at": now,
	}, []string{models.EventStatusReceived, models.EventStatusProcessing})
}

// MarkFailed records terminal failure with the last error and stamps
// processed_at, since the failure is definitive.
func (r *EventRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	now := time.Now().UTC()
	return r.transition(ctx, id, models.EventStatusFailed, map[string]interface{}{
		"status":        models.EventStatusFailed,
		"error_message": errorMessage,
		"processed_at":  now,
	}, []string{models.EventStatusReceived, models.EventStatusProcessing})
}

// transition applies a forward-only status update. The allowed-predecessor
// guard lives in the WHERE clause so concurrent updates stay atomic.
func (r *EventRepository) transition(ctx context.Context, id uuid.UUID, to string, updates map[string]interface{}, from []string) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark event %s as %s: %w", id, to, result.Error)
	}
	return nil
}

// FindStale returns events stuck in 'received' or 'processing' longer than
// the given age. The recovery sweep re-drives them after a crash between
// persistence and dispatch.
func (r *EventRepository) FindStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.WebhookEvent, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND received_at <= ?",
			[]string{models.EventStatusReceived, models.EventStatusProcessing}, cutoff).
		Order("received_at").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for stale events: %w", err)
	}
	return events, nil
}

// FindFailed lists terminally failed events, optionally filtered by
// provider, newest first. Operator-facing.
func (r *EventRepository) FindFailed(ctx context.Context, provider string, limit int) ([]models.WebhookEvent, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", models.EventStatusFailed).
		Order("received_at DESC").
		Limit(limit)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var events []models.WebhookEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list failed events: %w", err)
	}
	return events, nil
}
