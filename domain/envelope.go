package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnvelopeStream is the stream name of budget envelopes.
const EnvelopeStream = "budget_envelope"

var (
	ErrEnvelopeAlreadyCreated = errors.New("envelope already created")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInsufficientFunds      = errors.New("insufficient funds in envelope")
	ErrEnvelopeNameRequired   = errors.New("envelope name is required")
)

// Envelope Events

// EnvelopeCreated represents an envelope created event
type EnvelopeCreated struct {
	EventBase
	Name         string `json:"name"`
	TargetBudget int64  `json:"target_budget"`
	Currency     string `json:"currency"`
}

// EnvelopeCredited represents money added to an envelope
type EnvelopeCredited struct {
	EventBase
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// EnvelopeDebited represents money taken out of an envelope
type EnvelopeDebited struct {
	EventBase
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// EnvelopeRenamed represents an envelope rename
type EnvelopeRenamed struct {
	EventBase
	Name string `json:"name"`
}

// EnvelopeState represents the state of a budget envelope
type EnvelopeState struct {
	OwnerID       uuid.UUID `json:"owner_id"`
	Name          string    `json:"name"`
	TargetBudget  int64     `json:"target_budget"`
	Currency      string    `json:"currency"`
	CurrentAmount int64     `json:"current_amount"`
	Created       bool      `json:"created"`
}

// BudgetEnvelope is the aggregate for a budget envelope
type BudgetEnvelope struct {
	*AggregateBase
	State EnvelopeState `json:"state"`
}

// NewBudgetEnvelope creates an empty budget envelope aggregate
func NewBudgetEnvelope(id uuid.UUID) *BudgetEnvelope {
	return &BudgetEnvelope{
		AggregateBase: NewAggregateBase(id, EnvelopeStream),
	}
}

// Create opens the envelope for the given owner.
func (e *BudgetEnvelope) Create(requestID, ownerID uuid.UUID, name string, target int64, currency string) error {
	if e.State.Created {
		return ErrEnvelopeAlreadyCreated
	}
	if name == "" {
		return ErrEnvelopeNameRequired
	}
	if target <= 0 {
		return ErrInvalidAmount
	}

	return Record(e, &EnvelopeCreated{
		EventBase:    NewEventBase(e.ID(), requestID, ownerID),
		Name:         name,
		TargetBudget: target,
		Currency:     currency,
	})
}

// Credit adds money to the envelope.
func (e *BudgetEnvelope) Credit(requestID, userID uuid.UUID, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	return Record(e, &EnvelopeCredited{
		EventBase:   NewEventBase(e.ID(), requestID, userID),
		Amount:      amount,
		Description: description,
	})
}

// Debit takes money out of the envelope.
func (e *BudgetEnvelope) Debit(requestID, userID uuid.UUID, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > e.State.CurrentAmount {
		return fmt.Errorf("%w: balance %d, debit %d", ErrInsufficientFunds, e.State.CurrentAmount, amount)
	}

	return Record(e, &EnvelopeDebited{
		EventBase:   NewEventBase(e.ID(), requestID, userID),
		Amount:      amount,
		Description: description,
	})
}

// Rename changes the envelope name.
func (e *BudgetEnvelope) Rename(requestID, userID uuid.UUID, name string) error {
	if name == "" {
		return ErrEnvelopeNameRequired
	}

	return Record(e, &EnvelopeRenamed{
		EventBase: NewEventBase(e.ID(), requestID, userID),
		Name:      name,
	})
}

// Apply applies an event to the envelope state
func (e *BudgetEnvelope) Apply(event Event) error {
	switch ev := event.(type) {
	case *EnvelopeCreated:
		e.State.OwnerID = ev.UserID()
		e.State.Name = ev.Name
		e.State.TargetBudget = ev.TargetBudget
		e.State.Currency = ev.Currency
		e.State.Created = true
		e.SetSubjectID(ev.UserID())

	case *EnvelopeCredited:
		e.State.CurrentAmount += ev.Amount

	case *EnvelopeDebited:
		e.State.CurrentAmount -= ev.Amount

	case *EnvelopeRenamed:
		e.State.Name = ev.Name

	default:
		return fmt.Errorf("budget envelope: unsupported event %T", event)
	}

	return nil
}
