package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"example.com/backstage/budget/eventstore"
	"example.com/backstage/budget/tracing"
)

var (
	rewindStreamID string
	rewindAt       string
)

var rewindCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Show the state of a stream at a point in time",
	RunE: func(cmd *cobra.Command, args []string) error {
		streamID, err := uuid.Parse(rewindStreamID)
		if err != nil {
			return errors.Wrap(err, "invalid stream id")
		}

		at, err := time.Parse(time.RFC3339, rewindAt)
		if err != nil {
			return errors.Wrap(err, "invalid time, expected RFC3339")
		}

		svc, err := initServices()
		if err != nil {
			return err
		}

		ctx, end := tracing.StartTransaction(context.Background(), svc.nr, "cli/rewind")
		err = rewindStream(ctx, os.Stdout, svc.store, streamID, at)
		end(err)
		return err
	},
}

func init() {
	rewindCmd.Flags().StringVarP(&rewindStreamID, "stream", "s", "", "Stream id")
	rewindCmd.Flags().StringVar(&rewindAt, "at", "", "Point in time (RFC3339)")
	_ = rewindCmd.MarkFlagRequired("stream")
	_ = rewindCmd.MarkFlagRequired("at")
	rootCmd.AddCommand(rewindCmd)
}

type rewindView struct {
	StreamID   uuid.UUID       `json:"stream_id"`
	StreamName string          `json:"stream_name"`
	At         time.Time       `json:"at"`
	Version    int             `json:"version"`
	Rewound    bool            `json:"rewound"`
	Aggregate  json.RawMessage `json:"aggregate"`
}

// rewindStream writes the state of the stream as of at. The aggregate is
// never saved.
func rewindStream(ctx context.Context, w io.Writer, store *eventstore.GormEventStore, streamID uuid.UUID, at time.Time) error {
	session := store.Session()
	defer session.Close()

	aggregate, err := session.Load(ctx, streamID, eventstore.Until(at))
	if err != nil {
		return err
	}

	state, err := json.Marshal(aggregate)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rewindView{
		StreamID:   streamID,
		StreamName: aggregate.StreamName(),
		At:         at.UTC(),
		Version:    aggregate.Version(),
		Rewound:    session.Tracker().IsRewound(streamID),
		Aggregate:  state,
	})
}
