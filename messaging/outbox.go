package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/budget/models"
)

// Outbox publishes events by writing them to the outbox_messages table in the
// caller's transaction. The Dispatcher delivers them once committed.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Publish enqueues the records in the given transaction
func (o *Outbox) Publish(ctx context.Context, tx *gorm.DB, records []models.Event) error {
	if err := enqueue(ctx, tx, records, false); err != nil {
		return err
	}

	log.Debug().Int("count", len(records)).Msg("Events added to outbox")
	return nil
}

// Requeue enqueues already stored events again, e.g. to rebuild read models.
// Requeued messages get their own message id so the broker does not drop
// them as duplicates of the first delivery.
func (o *Outbox) Requeue(ctx context.Context, tx *gorm.DB, records []models.Event) error {
	if err := enqueue(ctx, tx, records, true); err != nil {
		return err
	}

	log.Info().Int("count", len(records)).Msg("Events requeued")
	return nil
}

func enqueue(ctx context.Context, tx *gorm.DB, records []models.Event, requeued bool) error {
	if len(records) == 0 {
		return nil
	}

	messages := make([]models.OutboxMessage, len(records))
	for i, r := range records {
		messages[i] = models.OutboxMessage{
			ID:            uuid.New(),
			EventID:       r.ID,
			StreamID:      r.StreamID,
			StreamName:    r.StreamName,
			EventName:     r.EventName,
			StreamVersion: r.StreamVersion,
			Payload:       r.Payload,
			OccurredOn:    r.OccurredOn,
			RequestID:     r.RequestID,
			Requeued:      requeued,
		}
	}

	if err := tx.WithContext(ctx).Create(&messages).Error; err != nil {
		return fmt.Errorf("failed to write outbox: %w", err)
	}
	return nil
}
