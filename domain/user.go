package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// UserStream is the stream name of user accounts.
const UserStream = "user"

var (
	ErrUserAlreadySignedUp = errors.New("user already signed up")
	ErrConsentRequired     = errors.New("user consent is required")
	ErrEmailRequired       = errors.New("email is required")
)

// User Events

// UserSignedUp represents an account creation. It opens the user's encryption subject.
type UserSignedUp struct {
	EventBase
	Email        string `json:"email"`
	Firstname    string `json:"firstname"`
	Lastname     string `json:"lastname"`
	ConsentGiven bool   `json:"consent_given"`
}

func (e *UserSignedUp) PersonalFields() map[string]*string {
	return map[string]*string{
		"email":     &e.Email,
		"firstname": &e.Firstname,
		"lastname":  &e.Lastname,
	}
}

func (e *UserSignedUp) IssuesSubjectKey() bool { return true }

// UserRenamed represents a change of the user's names
type UserRenamed struct {
	EventBase
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

func (e *UserRenamed) PersonalFields() map[string]*string {
	return map[string]*string{
		"firstname": &e.Firstname,
		"lastname":  &e.Lastname,
	}
}

// UserEmailChanged represents a change of the user's email
type UserEmailChanged struct {
	EventBase
	Email string `json:"email"`
}

func (e *UserEmailChanged) PersonalFields() map[string]*string {
	return map[string]*string{"email": &e.Email}
}

// UserState represents the state of a user account
type UserState struct {
	Email        string `json:"email"`
	Firstname    string `json:"firstname"`
	Lastname     string `json:"lastname"`
	ConsentGiven bool   `json:"consent_given"`
	SignedUp     bool   `json:"signed_up"`
}

// User is the aggregate for a user account
type User struct {
	*AggregateBase
	State UserState `json:"state"`
}

// NewUser creates an empty user aggregate. A user is its own encryption subject.
func NewUser(id uuid.UUID) *User {
	u := &User{AggregateBase: NewAggregateBase(id, UserStream)}
	u.SetSubjectID(id)
	return u
}

// SignUp creates the account.
func (u *User) SignUp(requestID uuid.UUID, email, firstname, lastname string, consent bool) error {
	if u.State.SignedUp {
		return ErrUserAlreadySignedUp
	}
	if email == "" {
		return ErrEmailRequired
	}
	if !consent {
		return ErrConsentRequired
	}

	return Record(u, &UserSignedUp{
		EventBase:    NewEventBase(u.ID(), requestID, u.ID()),
		Email:        email,
		Firstname:    firstname,
		Lastname:     lastname,
		ConsentGiven: consent,
	})
}

// Rename changes the user's names.
func (u *User) Rename(requestID uuid.UUID, firstname, lastname string) error {
	return Record(u, &UserRenamed{
		EventBase: NewEventBase(u.ID(), requestID, u.ID()),
		Firstname: firstname,
		Lastname:  lastname,
	})
}

// ChangeEmail changes the user's email.
func (u *User) ChangeEmail(requestID uuid.UUID, email string) error {
	if email == "" {
		return ErrEmailRequired
	}

	return Record(u, &UserEmailChanged{
		EventBase: NewEventBase(u.ID(), requestID, u.ID()),
		Email:     email,
	})
}

// Apply applies an event to the user state
func (u *User) Apply(event Event) error {
	switch ev := event.(type) {
	case *UserSignedUp:
		u.State.Email = ev.Email
		u.State.Firstname = ev.Firstname
		u.State.Lastname = ev.Lastname
		u.State.ConsentGiven = ev.ConsentGiven
		u.State.SignedUp = true

	case *UserRenamed:
		u.State.Firstname = ev.Firstname
		u.State.Lastname = ev.Lastname

	case *UserEmailChanged:
		u.State.Email = ev.Email

	default:
		return fmt.Errorf("user: unsupported event %T", event)
	}

	return nil
}
