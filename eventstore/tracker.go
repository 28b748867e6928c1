package eventstore

import (
	"fmt"

	"github.com/google/uuid"

	"example.com/backstage/budget/domain"
)

// IdentityTracker maps aggregate identities to the instances loaded in one
// unit of work. It is not safe for concurrent use.
type IdentityTracker struct {
	aggregates map[uuid.UUID]domain.Aggregate
	rewound    map[uuid.UUID]bool
}

func NewIdentityTracker() *IdentityTracker {
	return &IdentityTracker{
		aggregates: make(map[uuid.UUID]domain.Aggregate),
		rewound:    make(map[uuid.UUID]bool),
	}
}

// Track registers the aggregate. Tracking another instance with the same
// identity fails with ErrAlreadyTracked.
func (t *IdentityTracker) Track(aggregate domain.Aggregate) error {
	if current, ok := t.aggregates[aggregate.ID()]; ok && current != aggregate {
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, aggregate.ID())
	}
	t.aggregates[aggregate.ID()] = aggregate
	return nil
}

func (t *IdentityTracker) Untrack(aggregate domain.Aggregate) {
	if current, ok := t.aggregates[aggregate.ID()]; ok && current == aggregate {
		delete(t.aggregates, aggregate.ID())
		delete(t.rewound, aggregate.ID())
	}
}

func (t *IdentityTracker) IsTracked(id uuid.UUID) bool {
	_, ok := t.aggregates[id]
	return ok
}

// Get returns the tracked instance for id
func (t *IdentityTracker) Get(id uuid.UUID) (domain.Aggregate, bool) {
	a, ok := t.aggregates[id]
	return a, ok
}

// MarkRewound flags a tracked aggregate whose replay stopped before the end
// of its stream
func (t *IdentityTracker) MarkRewound(id uuid.UUID) {
	t.rewound[id] = true
}

func (t *IdentityTracker) IsRewound(id uuid.UUID) bool {
	return t.rewound[id]
}

// Len returns the number of tracked aggregates
func (t *IdentityTracker) Len() int {
	return len(t.aggregates)
}

func (t *IdentityTracker) Clear() {
	clear(t.aggregates)
	clear(t.rewound)
}
