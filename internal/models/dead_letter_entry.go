package models

import (
	"time"

	"github.com/google/uuid"
)

// Dead letter lifecycle. Entries are created when the dispatcher exhausts
// its retry budget for an event and end in resolved or abandoned.
const (
	DLQStatusPending   = "pending"
	DLQStatusRetrying  = "retrying"
	DLQStatusResolved  = "resolved"
	DLQStatusAbandoned = "abandoned"
)

type DeadLetterEntry struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	EventID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"event_id"`
	ErrorMessage   string     `gorm:"not null" json:"error_message"`
	RetryCount     int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries     int        `gorm:"not null" json:"max_retries"`
	NextRetryAt    *time.Time `gorm:"index" json:"next_retry_at"`
	LastRetryAt    *time.Time `json:"last_retry_at"`
	Status         string     `gorm:"not null;default:'pending';index" json:"status"`
	ResolutionNote *string    `json:"resolution_note"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (DeadLetterEntry) TableName() string {
	return "webhook_dead_letters"
}
