package eventstore

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"

	"example.com/backstage/budget/domain"
	"example.com/backstage/budget/models"
)

var (
	ErrAggregateNotFound   = errors.New("eventstore: aggregate not found")
	ErrConcurrencyConflict = errors.New("eventstore: concurrency conflict")
	ErrEventPersistence    = errors.New("eventstore: event persistence failure")
	ErrAlreadyTracked      = errors.New("eventstore: aggregate already loaded in this unit of work")
	ErrRewoundAggregate    = errors.New("eventstore: rewound aggregate is read-only")
	ErrCorruptStream       = errors.New("eventstore: stream versions are not contiguous")
	ErrCursorConsumed      = errors.New("eventstore: cursor already consumed")
	ErrNoSubject           = errors.New("eventstore: aggregate has no encryption subject")
)

// EventStore is the interface for event storage within one unit of work
type EventStore interface {
	// Load rebuilds an aggregate by replaying its stream
	Load(ctx context.Context, streamID uuid.UUID, opts ...LoadOption) (domain.Aggregate, error)

	// LoadByEventTypes streams the raw stored events of a stream, optionally
	// restricted to the given event type paths
	LoadByEventTypes(ctx context.Context, streamID uuid.UUID, eventPaths []string, opts ...LoadOption) iter.Seq2[*models.Event, error]

	// Save appends the uncommitted events of an aggregate
	Save(ctx context.Context, aggregate domain.Aggregate) error

	// SaveMany appends the uncommitted events of several aggregates atomically
	SaveMany(ctx context.Context, aggregates ...domain.Aggregate) error
}

type loadOptions struct {
	cutoff *time.Time
}

// LoadOption configures a load
type LoadOption func(o *loadOptions)

// Until restricts a load to the events that occurred at or before cutoff
func Until(cutoff time.Time) LoadOption {
	return func(o *loadOptions) {
		t := domain.Timestamp(cutoff)
		o.cutoff = &t
	}
}

func newLoadOptions(opts []LoadOption) loadOptions {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
