package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/budget/config"
	"example.com/backstage/budget/models"
)

// Dispatcher delivers committed outbox messages to the bus. Delivery is at
// least once: a message is marked published only after the bus accepted it.
type Dispatcher struct {
	db        *gorm.DB
	bus       Bus
	app       *newrelic.Application
	batchSize int
	interval  time.Duration
}

// NewDispatcher creates a dispatcher. app may be nil.
func NewDispatcher(db *gorm.DB, bus Bus, app *newrelic.Application, cfg config.OutboxConfig) *Dispatcher {
	d := &Dispatcher{
		db:        db,
		bus:       bus,
		app:       app,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
	}
	if d.batchSize <= 0 {
		d.batchSize = 100
	}
	if d.interval <= 0 {
		d.interval = 5 * time.Second
	}
	return d
}

// Run dispatches batches on a schedule until ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(d.interval),
		gocron.NewTask(func() {
			if _, err := d.DispatchBatch(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to dispatch outbox batch")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	log.Info().Dur("interval", d.interval).Int("batch_size", d.batchSize).Msg("Starting outbox dispatcher")
	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}

// DispatchBatch sends the oldest unpublished messages and returns how many
// were published. Once a message of a stream fails, the stream's later
// messages wait for the next batch so consumers see them in order.
func (d *Dispatcher) DispatchBatch(ctx context.Context) (int, error) {
	if d.app != nil {
		txn := d.app.StartTransaction("outbox/dispatch")
		defer txn.End()
		ctx = newrelic.NewContext(ctx, txn)
	}

	var messages []models.OutboxMessage
	if err := d.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at ASC").
		Order("stream_version ASC").
		Limit(d.batchSize).
		Find(&messages).Error; err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}

	if len(messages) == 0 {
		return 0, nil
	}

	log.Info().Msgf("Dispatching %d outbox messages", len(messages))

	blocked := make(map[uuid.UUID]bool)
	published := 0

	for _, message := range messages {
		if blocked[message.StreamID] {
			continue
		}

		if err := d.send(ctx, message); err != nil {
			blocked[message.StreamID] = true

			log.Error().Err(err).Str("message_id", message.ID.String()).Msg("Failed to dispatch message")
			// Record the error and retry on the next batch
			errMsg := err.Error()
			if err := d.db.WithContext(ctx).Model(&message).Updates(map[string]interface{}{
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"last_error":    &errMsg,
			}).Error; err != nil {
				log.Error().Err(err).Str("message_id", message.ID.String()).Msg("Failed to record dispatch error")
			}
			continue
		}

		// Mark the message as published
		now := time.Now().UTC()
		if err := d.db.WithContext(ctx).Model(&message).Updates(map[string]interface{}{
			"published_at":  &now,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    nil,
		}).Error; err != nil {
			// The message goes out again on the next batch
			blocked[message.StreamID] = true
			log.Error().Err(err).Str("message_id", message.ID.String()).Msg("Failed to mark message as published")
			continue
		}
		published++
	}

	return published, nil
}

func (d *Dispatcher) send(ctx context.Context, message models.OutboxMessage) error {
	defer newrelic.FromContext(ctx).StartSegment("outbox/send").End()

	msg, err := NewBusMessage(message)
	if err != nil {
		return err
	}
	return d.bus.Send(ctx, msg)
}
