package messaging

import (
	"context"

	"gorm.io/gorm"

	"example.com/backstage/budget/models"
)

// Publisher hands freshly persisted events over for delivery to the message
// bus. It runs inside the transaction that stores the events: an error rolls
// the whole save back.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, records []models.Event) error
}
