package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"example.com/backstage/budget/eventstore"
	"example.com/backstage/budget/messaging"
	"example.com/backstage/budget/tracing"
)

var replayStreamID string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a stream and republish its events",
	Long:  `Rebuild the aggregate of a stream to check that its history decodes and folds, then queue every stored event for publication again so read models can be rebuilt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		streamID, err := uuid.Parse(replayStreamID)
		if err != nil {
			return errors.Wrap(err, "invalid stream id")
		}

		svc, err := initServices()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		ctx, end := tracing.StartTransaction(ctx, svc.nr, "cli/replay")
		count, err := replayStream(ctx, svc.store, svc.outbox, streamID)
		end(err)
		if err != nil {
			return err
		}

		log.Info().Str("streamID", streamID.String()).Int("count", count).Msg("Stream replayed")
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayStreamID, "stream", "s", "", "Stream id")
	_ = replayCmd.MarkFlagRequired("stream")
	rootCmd.AddCommand(replayCmd)
}

// replayStream loads the aggregate of a stream, then requeues its stored
// events in the outbox. It returns the number of requeued events.
func replayStream(ctx context.Context, store *eventstore.GormEventStore, outbox *messaging.Outbox, streamID uuid.UUID) (int, error) {
	session := store.Session()
	defer session.Close()

	aggregate, err := session.Load(ctx, streamID)
	if err != nil {
		return 0, err
	}

	events, err := store.Events(ctx, streamID)
	if err != nil {
		return 0, err
	}

	// Rows appended since the load are not part of the checked history
	events = events[:aggregate.Version()]

	err = store.Transaction(ctx, func(tx *gorm.DB) error {
		return outbox.Requeue(ctx, tx, events)
	})
	if err != nil {
		return 0, err
	}

	return len(events), nil
}
