package models

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a stored domain event. Rows are append-only; the unique
// (stream_id, stream_version) index is the optimistic concurrency guard.
type Event struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	StreamID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_events_stream_version,priority:1;index:idx_events_stream_occurred,priority:1" json:"stream_id"`
	StreamName    string    `gorm:"size:128;not null" json:"stream_name"`
	EventName     string    `gorm:"size:255;not null;index" json:"event_name"`
	Payload       []byte    `gorm:"type:jsonb;not null" json:"payload"`
	OccurredOn    time.Time `gorm:"not null;index:idx_events_stream_occurred,priority:2" json:"occurred_on"`
	StreamVersion int       `gorm:"not null;uniqueIndex:idx_events_stream_version,priority:2" json:"stream_version"`
	RequestID     uuid.UUID `gorm:"type:uuid" json:"request_id"`
	SubjectID     uuid.UUID `gorm:"type:uuid" json:"subject_id"`
	MetaData      []byte    `gorm:"type:jsonb" json:"meta_data"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Event) TableName() string { return "events" }

// EventMeta is the content of Event.MetaData
type EventMeta struct {
	EventType string    `json:"event_type"`
	UserID    uuid.UUID `json:"user_id"`
}
