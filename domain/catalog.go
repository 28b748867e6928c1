package domain

import "github.com/google/uuid"

// Stored event names
const (
	// Envelope events
	EnvelopeCreatedName  = "V1_ENVELOPE_CREATED"
	EnvelopeCreditedName = "V1_ENVELOPE_CREDITED"
	EnvelopeDebitedName  = "V1_ENVELOPE_DEBITED"
	EnvelopeRenamedName  = "V1_ENVELOPE_RENAMED"

	// User events
	UserSignedUpName     = "V1_USER_SIGNED_UP"
	UserRenamedName      = "V1_USER_RENAMED"
	UserEmailChangedName = "V1_USER_EMAIL_CHANGED"
)

// EventCatalog returns the constructors of every event of the budget contexts, by stored name.
func EventCatalog() map[string]func() Event {
	return map[string]func() Event{
		EnvelopeCreatedName:  func() Event { return &EnvelopeCreated{} },
		EnvelopeCreditedName: func() Event { return &EnvelopeCredited{} },
		EnvelopeDebitedName:  func() Event { return &EnvelopeDebited{} },
		EnvelopeRenamedName:  func() Event { return &EnvelopeRenamed{} },
		UserSignedUpName:     func() Event { return &UserSignedUp{} },
		UserRenamedName:      func() Event { return &UserRenamed{} },
		UserEmailChangedName: func() Event { return &UserEmailChanged{} },
	}
}

// StreamCatalog returns the empty-state constructors of every aggregate, by stream name.
func StreamCatalog() map[string]func(id uuid.UUID) Aggregate {
	return map[string]func(id uuid.UUID) Aggregate{
		EnvelopeStream: func(id uuid.UUID) Aggregate { return NewBudgetEnvelope(id) },
		UserStream:     func(id uuid.UUID) Aggregate { return NewUser(id) },
	}
}
