package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Webhook event lifecycle. Transitions only move forward; nothing may
// revert a processed or failed event.
const (
	EventStatusReceived   = "received"
	EventStatusProcessing = "processing"
	EventStatusProcessed  = "processed"
	EventStatusFailed     = "failed"
)

type WebhookEvent struct {
	ID                uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Provider          string         `gorm:"not null;uniqueIndex:idx_webhook_events_provider_external" json:"provider"`
	ExternalID        *string        `gorm:"uniqueIndex:idx_webhook_events_provider_external" json:"external_id"`
	EventType         string         `gorm:"not null" json:"event_type"`
	RawPayload        datatypes.JSON `gorm:"type:jsonb;not null" json:"raw_payload"`
	NormalizedPayload datatypes.JSON `gorm:"type:jsonb" json:"normalized_payload"`
	Status            string         `gorm:"not null;default:'received';index" json:"status"`
	UserIdentifier    *string        `json:"user_identifier"`
	OrganizationID    *uuid.UUID     `gorm:"type:uuid" json:"organization_id"`
	ErrorMessage      *string        `json:"error_message"`
	ReceivedAt        time.Time      `gorm:"not null;index" json:"received_at"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// eventStatusRank orders the lifecycle for forward-only checks.
var eventStatusRank = map[string]int{
	EventStatusReceived:   0,
	EventStatusProcessing: 1,
	EventStatusProcessed:  2,
	EventStatusFailed:     2,
}

// CanTransitionEvent reports whether moving from one status to another
// respects the forward-only lifecycle. Terminal states accept no moves.
func CanTransitionEvent(from, to string) bool {
	fromRank, ok := eventStatusRank[from]
	if !ok {
		return false
	}
	toRank, ok := eventStatusRank[to]
	if !ok {
		return false
	}
	if from == EventStatusProcessed || from == EventStatusFailed {
		return false
	}
	return toRank > fromRank
}

// IsTerminalEventStatus reports whether the status ends the event lifecycle.
func IsTerminalEventStatus(status string) bool {
	return status == EventStatusProcessed || status == EventStatusFailed
}
