package models

import (
	"time"

	"github.com/google/uuid"
)

// SubjectKey holds the encryption key of one subject. Deleting the row makes
// the subject's personal data unreadable.
type SubjectKey struct {
	SubjectID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"subject_id"`
	KeyMaterial []byte    `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (SubjectKey) TableName() string { return "subject_keys" }

// All returns every model managed by the migrations
func All() []interface{} {
	return []interface{}{&Event{}, &OutboxMessage{}, &SubjectKey{}}
}
