// Package dlq manages the dead letter queue: events whose delivery attempts
// were exhausted wait here for manual or scheduled re-drive. Nothing is ever
// silently discarded; the only way an event ends without downstream delivery
// is an abandoned entry, and those stay listable.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fsotosa-ops/oasis-api/internal/models"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

// Redeliverer performs a single delivery attempt for an event during a
// re-drive. Implemented by the dispatcher.
type Redeliverer interface {
	Redeliver(ctx context.Context, event *models.WebhookEvent) error
}

// RetryResult summarizes one re-drive batch.
type RetryResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Manager struct {
	db         *gorm.DB
	events     *repository.EventRepository
	logger     *zap.Logger
	maxRetries int
}

// NewManager creates the DLQ manager. maxRetries is the operator-configured
// re-drive ceiling after which entries are abandoned.
func NewManager(db *gorm.DB, events *repository.EventRepository, logger *zap.Logger, maxRetries int) *Manager {
	return &Manager{
		db:         db,
		events:     events,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Enqueue records a dispatch-exhausted event. A first failure creates a
// pending entry with an immediate retry window; a repeated failure
// increments the retry count and reschedules with exponential backoff, or
// abandons the entry once the ceiling is reached.
func (m *Manager) Enqueue(ctx context.Context, eventID uuid.UUID, errorMessage string) (*models.DeadLetterEntry, error) {
	existing, err := m.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return m.incrementRetry(ctx, existing, errorMessage)
	}

	now := time.Now().UTC()
	nextRetry := now.Add(1 * time.Second)
	entry := &models.DeadLetterEntry{
		ID:           uuid.New(),
		EventID:      eventID,
		ErrorMessage: errorMessage,
		RetryCount:   0,
		MaxRetries:   m.maxRetries,
		NextRetryAt:  &nextRetry,
		Status:       models.DLQStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue event %s to DLQ: %w", eventID, err)
	}

	m.logger.Info("Event added to DLQ",
		zap.String("event_id", eventID.String()),
		zap.Time("next_retry_at", nextRetry),
	)
	return entry, nil
}

// incrementRetry reschedules with 2^n backoff or abandons at the ceiling.
func (m *Manager) incrementRetry(ctx context.Context, entry *models.DeadLetterEntry, errorMessage string) (*models.DeadLetterEntry, error) {
	now := time.Now().UTC()
	newCount := entry.RetryCount + 1

	updates := map[string]interface{}{
		"error_message": errorMessage,
		"retry_count":   newCount,
		"last_retry_at": now,
		"updated_at":    now,
	}

	if newCount >= entry.MaxRetries {
		updates["status"] = models.DLQStatusAbandoned
		updates["next_retry_at"] = nil
		m.logger.Warn("Event abandoned after exhausting DLQ retries",
			zap.String("event_id", entry.EventID.String()),
			zap.Int("retry_count", newCount),
		)
	} else {
		backoff := time.Duration(1<<uint(newCount)) * time.Second
		nextRetry := now.Add(backoff)
		updates["status"] = models.DLQStatusPending
		updates["next_retry_at"] = nextRetry
		m.logger.Info("DLQ retry rescheduled",
			zap.String("event_id", entry.EventID.String()),
			zap.Int("retry_count", newCount),
			zap.Duration("backoff", backoff),
		)
	}

	err := m.db.WithContext(ctx).Model(&models.DeadLetterEntry{}).
		Where("id = ?", entry.ID).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update DLQ entry %s: %w", entry.ID, err)
	}

	return m.FindByID(ctx, entry.ID)
}

// FindByID loads a DLQ entry, or nil when not found.
func (m *Manager) FindByID(ctx context.Context, id uuid.UUID) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	err := m.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load DLQ entry: %w", err)
	}
	return &entry, nil
}

// FindByEventID loads the entry for an event, or nil when not found.
func (m *Manager) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	err := m.db.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load DLQ entry by event id: %w", err)
	}
	return &entry, nil
}

// List returns entries, optionally filtered by status, newest first.
func (m *Manager) List(ctx context.Context, status string, limit int) ([]models.DeadLetterEntry, error) {
	query := m.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var entries []models.DeadLetterEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list DLQ entries: %w", err)
	}
	return entries, nil
}

// PendingRetries returns entries ready for re-drive (next_retry_at due),
// oldest due first.
func (m *Manager) PendingRetries(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	var entries []models.DeadLetterEntry
	err := m.db.WithContext(ctx).
		Where("status IN ? AND next_retry_at <= ?",
			[]string{models.DLQStatusPending, models.DLQStatusRetrying}, time.Now().UTC()).
		Order("next_retry_at").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending DLQ retries: %w", err)
	}
	return entries, nil
}

func (m *Manager) markRetrying(ctx context.Context, id uuid.UUID) error {
	return m.db.WithContext(ctx).Model(&models.DeadLetterEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.DLQStatusRetrying,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (m *Manager) markResolved(ctx context.Context, id uuid.UUID, note string) error {
	return m.db.WithContext(ctx).Model(&models.DeadLetterEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.DLQStatusResolved,
			"resolution_note": note,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// RetryBatch re-drives up to batchSize due entries through the given
// redeliverer. Success resolves the entry and marks the event processed;
// failure goes back through Enqueue, which reschedules or abandons.
func (m *Manager) RetryBatch(ctx context.Context, batchSize int, redeliver Redeliverer) (RetryResult, error) {
	result := RetryResult{}

	pending, err := m.PendingRetries(ctx, batchSize)
	if err != nil {
		return result, err
	}

	for _, entry := range pending {
		result.Attempted++

		if err := m.markRetrying(ctx, entry.ID); err != nil {
			m.logger.Error("Failed to mark DLQ entry as retrying",
				zap.String("dlq_id", entry.ID.String()),
				zap.Error(err),
			)
			result.Failed++
			continue
		}

		event, err := m.events.FindByID(ctx, entry.EventID)
		if err != nil || event == nil || len(event.NormalizedPayload) == 0 {
			m.logger.Warn("Event not found for DLQ retry, skipping",
				zap.String("event_id", entry.EventID.String()),
				zap.Error(err),
			)
			result.Skipped++
			continue
		}

		if err := redeliver.Redeliver(ctx, event); err != nil {
			m.logger.Error("DLQ re-drive failed",
				zap.String("event_id", entry.EventID.String()),
				zap.Error(err),
			)
			if _, enqErr := m.Enqueue(ctx, entry.EventID, err.Error()); enqErr != nil {
				m.logger.Error("Failed to reschedule DLQ entry",
					zap.String("dlq_id", entry.ID.String()),
					zap.Error(enqErr),
				)
			}
			result.Failed++
			continue
		}

		if err := m.events.MarkProcessed(ctx, entry.EventID); err != nil {
			m.logger.Error("Failed to mark event processed after DLQ re-drive",
				zap.String("event_id", entry.EventID.String()),
				zap.Error(err),
			)
		}
		if err := m.markResolved(ctx, entry.ID, "successfully retried"); err != nil {
			m.logger.Error("Failed to resolve DLQ entry",
				zap.String("dlq_id", entry.ID.String()),
				zap.Error(err),
			)
		}
		result.Succeeded++
	}

	m.logger.Info("DLQ retry batch complete",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// Stats counts entries per status for monitoring.
func (m *Manager) Stats(ctx context.Context) (map[string]int64, error) {
	stats := map[string]int64{
		models.DLQStatusPending:   0,
		models.DLQStatusRetrying:  0,
		models.DLQStatusResolved:  0,
		models.DLQStatusAbandoned: 0,
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := m.db.WithContext(ctx).Model(&models.DeadLetterEntry{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute DLQ stats: %w", err)
	}

	var total int64
	for _, c := range counts {
		stats[c.Status] = c.Count
		total += c.Count
	}
	stats["total"] = total
	return stats, nil
}
