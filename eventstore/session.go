package eventstore

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/budget/crypto"
	"example.com/backstage/budget/domain"
	"example.com/backstage/budget/models"
)

// State of a unit of work
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateMutating
	StateSaving
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateMutating:
		return "mutating"
	case StateSaving:
		return "saving"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one unit of work: the aggregates it loaded and the subject keys
// it resolved. A session and its aggregates belong to a single goroutine.
type Session struct {
	store     *GormEventStore
	tracker   *IdentityTracker
	keys      *crypto.KeyCache
	encryptor *crypto.FieldEncryptor
	state     State
}

var _ EventStore = (*Session)(nil)

// State returns the current state of the unit of work
func (s *Session) State() State {
	if s.state == StateLoaded {
		for _, agg := range s.tracker.aggregates {
			if len(agg.Uncommitted()) > 0 {
				return StateMutating
			}
		}
	}
	return s.state
}

// Tracker returns the identity tracker of the session
func (s *Session) Tracker() *IdentityTracker {
	return s.tracker
}

// Load rebuilds an aggregate by replaying its stream in version order. With
// Until, only events that occurred at or before the cutoff are folded; if
// that leaves any event out, the aggregate is rewound and cannot be saved.
func (s *Session) Load(ctx context.Context, streamID uuid.UUID, opts ...LoadOption) (domain.Aggregate, error) {
	defer newrelic.FromContext(ctx).StartSegment("eventstore/load").End()

	o := newLoadOptions(opts)

	if s.tracker.IsTracked(streamID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, streamID)
	}

	previous := s.state
	s.state = StateLoading

	// Checked before replay: events appended afterwards must surface as a
	// concurrency conflict on save, not as a rewind.
	rewound := false
	if o.cutoff != nil {
		hidden, err := s.store.hasEventsAfter(ctx, streamID, *o.cutoff)
		if err != nil {
			s.state = previous
			return nil, err
		}
		rewound = hidden
	}

	aggregate, err := s.replay(ctx, streamID, o)
	if err != nil {
		s.state = previous
		return nil, err
	}

	if err := s.tracker.Track(aggregate); err != nil {
		s.state = previous
		return nil, err
	}
	if rewound {
		s.tracker.MarkRewound(streamID)
	}

	s.state = StateLoaded
	return aggregate, nil
}

func (s *Session) replay(ctx context.Context, streamID uuid.UUID, o loadOptions) (domain.Aggregate, error) {
	query := s.store.db.WithContext(ctx).Where("stream_id = ?", streamID)
	if o.cutoff != nil {
		query = query.Where("occurred_on <= ?", *o.cutoff)
	}

	var rows []models.Event
	if err := query.Order("stream_version ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, streamID)
	}

	// Every row of a stream shares its stream name
	streamType, err := s.store.registry.AggregateTypeForStream(rows[0].StreamName)
	if err != nil {
		return nil, err
	}
	aggregate := streamType.New(streamID)

	for _, row := range rows {
		// occurred_on is not monotonic across writers, so a cutoff may
		// leave gaps in the folded versions.
		if o.cutoff == nil && row.StreamVersion != aggregate.Version()+1 {
			return nil, fmt.Errorf("%w: stream %s expected version %d, got %d",
				ErrCorruptStream, streamID, aggregate.Version()+1, row.StreamVersion)
		}

		event, err := s.store.registry.Decode(row.EventName, row.Payload)
		if err != nil {
			return nil, err
		}

		if _, ok := event.(domain.PersonalData); ok {
			if event, err = s.encryptor.Decrypt(ctx, event, row.SubjectID); err != nil {
				return nil, fmt.Errorf("stream %s version %d: %w", streamID, row.StreamVersion, err)
			}
		}

		if err := aggregate.Apply(event); err != nil {
			return nil, fmt.Errorf("failed to apply %s at version %d: %w", row.EventName, row.StreamVersion, err)
		}
		aggregate.SetVersion(row.StreamVersion)
	}

	log.Debug().
		Str("streamID", streamID.String()).
		Str("streamName", aggregate.StreamName()).
		Int("version", aggregate.Version()).
		Msg("Aggregate loaded")

	return aggregate, nil
}

// LoadByEventTypes returns a lazy cursor over the stored events of a stream
// in version order. Payloads are returned as stored: no decryption and no
// folding. An empty eventPaths selects every event. The cursor can be ranged
// over once; stopping early releases it.
func (s *Session) LoadByEventTypes(ctx context.Context, streamID uuid.UUID, eventPaths []string, opts ...LoadOption) iter.Seq2[*models.Event, error] {
	o := newLoadOptions(opts)
	names := s.store.registry.ClassNamesFor(eventPaths)
	consumed := false

	return func(yield func(*models.Event, error) bool) {
		if consumed {
			yield(nil, ErrCursorConsumed)
			return
		}
		consumed = true

		defer newrelic.FromContext(ctx).StartSegment("eventstore/load_by_event_types").End()

		db := s.store.db.WithContext(ctx)
		query := db.Model(&models.Event{}).Where("stream_id = ?", streamID)
		if len(names) > 0 {
			query = query.Where("event_name IN ?", names)
		}
		if o.cutoff != nil {
			query = query.Where("occurred_on <= ?", *o.cutoff)
		}

		rows, err := query.Order("stream_version ASC").Rows()
		if err != nil {
			yield(nil, fmt.Errorf("failed to load events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var event models.Event
			if err := db.ScanRows(rows, &event); err != nil {
				yield(nil, fmt.Errorf("failed to scan event: %w", err))
				return
			}
			if !yield(&event, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to load events: %w", err))
		}
	}
}

// Save appends the uncommitted events of the aggregate
func (s *Session) Save(ctx context.Context, aggregate domain.Aggregate) error {
	return s.SaveMany(ctx, aggregate)
}

// SaveMany appends the uncommitted events of every aggregate in a single
// transaction and hands the stored events to the publisher before commit.
// Either every event is stored or none is. A version collision is returned
// as ErrConcurrencyConflict; any other failure as ErrEventPersistence. The
// subject keys of the session are wiped in both cases.
func (s *Session) SaveMany(ctx context.Context, aggregates ...domain.Aggregate) error {
	defer newrelic.FromContext(ctx).StartSegment("eventstore/save").End()
	defer s.keys.Clear()

	pending := 0
	seen := make(map[uuid.UUID]bool, len(aggregates))
	for _, agg := range aggregates {
		if s.tracker.IsRewound(agg.ID()) {
			return fmt.Errorf("%w: %s", ErrRewoundAggregate, agg.ID())
		}
		if tracked, ok := s.tracker.Get(agg.ID()); (ok && tracked != agg) || seen[agg.ID()] {
			return fmt.Errorf("%w: %s", ErrAlreadyTracked, agg.ID())
		}
		seen[agg.ID()] = true
		pending += len(agg.Uncommitted())
	}

	if pending == 0 {
		return nil
	}

	s.state = StateSaving

	// Keys are resolved and payloads encrypted before the transaction takes
	// its connection; the key store may share the same pool.
	records := make([]models.Event, 0, pending)
	for _, agg := range aggregates {
		version := agg.Version()
		for _, event := range agg.Uncommitted() {
			version++

			record, err := s.record(ctx, agg, event, version)
			if err != nil {
				return s.rollback(err, pending)
			}
			records = append(records, record)
		}
	}

	err := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			if err := tx.Create(&records[i]).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: stream %s version %d",
						ErrConcurrencyConflict, records[i].StreamID, records[i].StreamVersion)
				}
				return fmt.Errorf("failed to save event: %w", err)
			}
		}

		if s.store.publisher == nil {
			return nil
		}
		if err := s.store.publisher.Publish(ctx, tx, records); err != nil {
			return fmt.Errorf("failed to publish events: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.rollback(err, pending)
	}

	for _, agg := range aggregates {
		s.tracker.Untrack(agg)

		uncommitted := agg.Uncommitted()
		if len(uncommitted) == 0 {
			continue
		}

		agg.SetVersion(agg.Version() + len(uncommitted))
		agg.ClearUncommitted()

		log.Info().
			Str("streamID", agg.ID().String()).
			Str("streamName", agg.StreamName()).
			Int("events", len(uncommitted)).
			Int("version", agg.Version()).
			Msg("Events saved")
	}

	s.state = StateCommitted
	return nil
}

func (s *Session) rollback(err error, pending int) error {
	s.state = StateRolledBack
	log.Error().Err(err).Int("events", pending).Msg("Events rolled back")

	if errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEventPersistence, err)
}

// Close ends the unit of work, forgetting tracked aggregates and wiping keys
func (s *Session) Close() {
	s.tracker.Clear()
	s.keys.Clear()
	s.state = StateIdle
}
