package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/backstage/budget/crypto"
	"example.com/backstage/budget/domain"
	"example.com/backstage/budget/messaging"
	"example.com/backstage/budget/models"
	"example.com/backstage/budget/registry"
)

// GormEventStore stores events in the events table using GORM. It holds the
// long-lived collaborators; each unit of work runs in its own Session.
type GormEventStore struct {
	db        *gorm.DB
	registry  *registry.Registry
	keys      crypto.KeyManager
	publisher messaging.Publisher
}

// NewGormEventStore creates a new GORM event store. A nil publisher disables
// publication.
func NewGormEventStore(db *gorm.DB, reg *registry.Registry, keys crypto.KeyManager, pub messaging.Publisher) *GormEventStore {
	return &GormEventStore{
		db:        db,
		registry:  reg,
		keys:      keys,
		publisher: pub,
	}
}

// Session opens a unit of work
func (s *GormEventStore) Session() *Session {
	keys := crypto.NewKeyCache(s.keys)

	return &Session{
		store:     s,
		tracker:   NewIdentityTracker(),
		keys:      keys,
		encryptor: crypto.NewFieldEncryptor(keys),
		state:     StateIdle,
	}
}

// StreamVersion returns the latest stored version of a stream, 0 when empty
func (s *GormEventStore) StreamVersion(ctx context.Context, streamID uuid.UUID) (int, error) {
	var version int
	err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("stream_id = ?", streamID).
		Select("COALESCE(MAX(stream_version), 0)").
		Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read stream version: %w", err)
	}
	return version, nil
}

// hasEventsAfter reports whether the stream holds events that occurred after the cutoff
func (s *GormEventStore) hasEventsAfter(ctx context.Context, streamID uuid.UUID, cutoff time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("stream_id = ? AND occurred_on > ?", streamID, cutoff).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check events after cutoff: %w", err)
	}
	return count > 0, nil
}

// Events returns every stored event of a stream in version order
func (s *GormEventStore) Events(ctx context.Context, streamID uuid.UUID) ([]models.Event, error) {
	var events []models.Event
	if err := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("stream_version ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

// Transaction runs fn in a database transaction
func (s *GormEventStore) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// record builds the row of an event. Personal data is encrypted on a copy so
// the aggregate keeps its plaintext events if the save fails.
func (s *Session) record(ctx context.Context, aggregate domain.Aggregate, event domain.Event, version int) (models.Event, error) {
	reg := s.store.registry

	path := registry.PathOf(event)
	name := reg.ClassNameFor(path)
	if _, err := reg.EventPathFor(name); err != nil {
		return models.Event{}, fmt.Errorf("%w: %s", registry.ErrUnknownEventType, path)
	}

	if event.AggregateID() != aggregate.ID() {
		return models.Event{}, fmt.Errorf("event %s belongs to aggregate %s, not %s", name, event.AggregateID(), aggregate.ID())
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}

	if _, ok := event.(domain.PersonalData); ok {
		if aggregate.SubjectID() == uuid.Nil {
			return models.Event{}, fmt.Errorf("%w: %s %s", ErrNoSubject, aggregate.StreamName(), aggregate.ID())
		}

		sealed, err := reg.Decode(name, payload)
		if err != nil {
			return models.Event{}, err
		}
		if sealed, err = s.encryptor.Encrypt(ctx, sealed, aggregate.SubjectID()); err != nil {
			return models.Event{}, err
		}
		if payload, err = json.Marshal(sealed); err != nil {
			return models.Event{}, fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	requestID, ok := domain.RequestIDFrom(ctx)
	if !ok {
		requestID = event.RequestID()
	}

	meta, err := json.Marshal(models.EventMeta{
		EventType: path,
		UserID:    event.UserID(),
	})
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	return models.Event{
		StreamID:      aggregate.ID(),
		StreamName:    aggregate.StreamName(),
		EventName:     name,
		Payload:       payload,
		OccurredOn:    domain.Timestamp(event.OccurredOn()),
		StreamVersion: version,
		RequestID:     requestID,
		SubjectID:     aggregate.SubjectID(),
		MetaData:      meta,
	}, nil
}

// isUniqueViolation reports whether err comes from the (stream_id,
// stream_version) unique index
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
