package domain

import (
	"time"

	"github.com/google/uuid"
)

// Now is the clock used to stamp events. Tests may replace it.
var Now = func() time.Time {
	return time.Now()
}

// Event is a domain event raised by an aggregate.
type Event interface {
	AggregateID() uuid.UUID
	OccurredOn() time.Time
	RequestID() uuid.UUID
	UserID() uuid.UUID
}

// PersonalData is implemented by events carrying fields that must only be
// stored encrypted. The map is keyed by field name; values point into the event.
type PersonalData interface {
	Event
	PersonalFields() map[string]*string
}

// SubjectKeyIssuer is implemented by events that open a new encryption subject,
// such as an account creation. Only those may cause a key to be generated.
type SubjectKeyIssuer interface {
	IssuesSubjectKey() bool
}

// EventBase holds the fields shared by every event.
type EventBase struct {
	Aggregate uuid.UUID `json:"aggregate_id"`
	Occurred  time.Time `json:"occurred_on"`
	Request   uuid.UUID `json:"request_id"`
	User      uuid.UUID `json:"user_id"`
}

// NewEventBase stamps a new event for the given aggregate.
func NewEventBase(aggregateID, requestID, userID uuid.UUID) EventBase {
	return EventBase{
		Aggregate: aggregateID,
		Occurred:  Timestamp(Now()),
		Request:   requestID,
		User:      userID,
	}
}

// Timestamp normalizes t to the precision stored in the event log.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (e EventBase) AggregateID() uuid.UUID { return e.Aggregate }
func (e EventBase) OccurredOn() time.Time  { return e.Occurred }
func (e EventBase) RequestID() uuid.UUID   { return e.Request }
func (e EventBase) UserID() uuid.UUID      { return e.User }
