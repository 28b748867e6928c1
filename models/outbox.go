package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is an event waiting to be published to the message bus. It is
// written in the same transaction as the event it mirrors.
type OutboxMessage struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID       uint      `gorm:"index" json:"event_id"`
	StreamID      uuid.UUID `gorm:"type:uuid;not null" json:"stream_id"`
	StreamName    string    `gorm:"size:128;not null" json:"stream_name"`
	EventName     string    `gorm:"size:255;not null" json:"event_name"`
	StreamVersion int       `gorm:"not null" json:"stream_version"`
	Payload       []byte    `gorm:"type:jsonb;not null" json:"payload"`
	OccurredOn    time.Time `gorm:"not null" json:"occurred_on"`
	RequestID     uuid.UUID `gorm:"type:uuid" json:"request_id"`
	// Requeued marks a copy of an already published event
	Requeued     bool       `gorm:"not null;default:false" json:"requeued"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	PublishedAt  *time.Time `gorm:"index" json:"published_at"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	LastError    *string    `json:"last_error"`
}

func (OutboxMessage) TableName() string { return "outbox_messages" }
