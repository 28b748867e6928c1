package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Aggregate is the interface for all event-sourced aggregates
type Aggregate interface {
	ID() uuid.UUID
	StreamName() string
	// SubjectID identifies whose key encrypts the personal data of this stream.
	SubjectID() uuid.UUID
	Version() int
	SetVersion(version int)
	Apply(event Event) error
	Uncommitted() []Event
	ClearUncommitted()
}

// AggregateBase provides common aggregate functionality
type AggregateBase struct {
	id          uuid.UUID
	streamName  string
	subjectID   uuid.UUID
	version     int
	uncommitted []Event
}

// NewAggregateBase creates a new aggregate base
func NewAggregateBase(id uuid.UUID, streamName string) *AggregateBase {
	return &AggregateBase{
		id:         id,
		streamName: streamName,
	}
}

// ID returns the aggregate ID
func (a *AggregateBase) ID() uuid.UUID {
	return a.id
}

// StreamName returns the name of the stream the aggregate is stored in
func (a *AggregateBase) StreamName() string {
	return a.streamName
}

// SubjectID returns the encryption subject of the aggregate
func (a *AggregateBase) SubjectID() uuid.UUID {
	return a.subjectID
}

// SetSubjectID sets the encryption subject
func (a *AggregateBase) SetSubjectID(id uuid.UUID) {
	a.subjectID = id
}

// Version returns the stream version of the last event the aggregate has seen
func (a *AggregateBase) Version() int {
	return a.version
}

// SetVersion sets the aggregate version
func (a *AggregateBase) SetVersion(version int) {
	a.version = version
}

// Uncommitted returns a copy of the events raised but not yet persisted
func (a *AggregateBase) Uncommitted() []Event {
	out := make([]Event, len(a.uncommitted))
	copy(out, a.uncommitted)
	return out
}

// ClearUncommitted clears the events
func (a *AggregateBase) ClearUncommitted() {
	a.uncommitted = nil
}

func (a *AggregateBase) raise(event Event) {
	a.uncommitted = append(a.uncommitted, event)
}

type raiser interface {
	Aggregate
	raise(event Event)
}

// Record applies a newly raised event to the aggregate and buffers it for saving.
func Record(aggregate Aggregate, event Event) error {
	r, ok := aggregate.(raiser)
	if !ok {
		return fmt.Errorf("aggregate %T does not embed AggregateBase", aggregate)
	}

	if err := aggregate.Apply(event); err != nil {
		return fmt.Errorf("failed to apply event: %w", err)
	}

	r.raise(event)
	return nil
}
