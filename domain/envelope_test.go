package domain

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeLifecycle(t *testing.T) {
	owner := uuid.New()
	env := NewBudgetEnvelope(uuid.New())

	require.NoError(t, env.Create(uuid.New(), owner, "Groceries", 40000, "EUR"))
	require.ErrorIs(t, env.Create(uuid.New(), owner, "Again", 1, "EUR"), ErrEnvelopeAlreadyCreated)

	require.NoError(t, env.Credit(uuid.New(), owner, 500, "salary"))
	require.NoError(t, env.Debit(uuid.New(), owner, 120, "market"))
	require.NoError(t, env.Rename(uuid.New(), owner, "Food"))

	require.Equal(t, int64(380), env.State.CurrentAmount)
	require.Equal(t, "Food", env.State.Name)
	require.Equal(t, owner, env.State.OwnerID)
	require.Equal(t, owner, env.SubjectID())
	require.Len(t, env.Uncommitted(), 4)

	// Recording does not advance the stored version
	require.Equal(t, 0, env.Version())
}

func TestEnvelopeGuards(t *testing.T) {
	owner := uuid.New()
	env := NewBudgetEnvelope(uuid.New())

	require.ErrorIs(t, env.Create(uuid.New(), owner, "", 100, "EUR"), ErrEnvelopeNameRequired)
	require.ErrorIs(t, env.Create(uuid.New(), owner, "Car", 0, "EUR"), ErrInvalidAmount)
	require.NoError(t, env.Create(uuid.New(), owner, "Car", 100, "EUR"))

	require.ErrorIs(t, env.Credit(uuid.New(), owner, -5, ""), ErrInvalidAmount)
	require.ErrorIs(t, env.Debit(uuid.New(), owner, 1, ""), ErrInsufficientFunds)
	require.ErrorIs(t, env.Rename(uuid.New(), owner, ""), ErrEnvelopeNameRequired)

	// Rejected commands raise nothing
	require.Len(t, env.Uncommitted(), 1)
}

func TestEnvelopeReplayMatchesRecording(t *testing.T) {
	owner := uuid.New()
	live := NewBudgetEnvelope(uuid.New())
	require.NoError(t, live.Create(uuid.New(), owner, "Trips", 900, "EUR"))
	require.NoError(t, live.Credit(uuid.New(), owner, 90, ""))
	require.NoError(t, live.Debit(uuid.New(), owner, 30, ""))

	replayed := NewBudgetEnvelope(live.ID())
	for _, e := range live.Uncommitted() {
		require.NoError(t, replayed.Apply(e))
	}
	require.Equal(t, live.State, replayed.State)
	require.Equal(t, live.SubjectID(), replayed.SubjectID())

	live.ClearUncommitted()
	require.Empty(t, live.Uncommitted())
}

func TestEnvelopeRejectsForeignEvents(t *testing.T) {
	env := NewBudgetEnvelope(uuid.New())
	require.Error(t, env.Apply(&UserRenamed{}))
}

func TestEventBaseStamp(t *testing.T) {
	previous := Now
	t.Cleanup(func() { Now = previous })

	local := time.Date(2024, 6, 1, 12, 30, 0, 123456789, time.FixedZone("CEST", 2*3600))
	Now = func() time.Time { return local }

	aggregate, request, user := uuid.New(), uuid.New(), uuid.New()
	base := NewEventBase(aggregate, request, user)

	require.Equal(t, aggregate, base.AggregateID())
	require.Equal(t, request, base.RequestID())
	require.Equal(t, user, base.UserID())
	require.Equal(t, time.UTC, base.OccurredOn().Location())
	require.Equal(t, 123456000, base.OccurredOn().Nanosecond())
	require.True(t, local.Truncate(time.Microsecond).Equal(base.OccurredOn()))
}

func TestRequestIDContext(t *testing.T) {
	_, ok := RequestIDFrom(context.Background())
	require.False(t, ok)

	_, ok = RequestIDFrom(WithRequestID(context.Background(), uuid.Nil))
	require.False(t, ok)

	id := uuid.New()
	got, ok := RequestIDFrom(WithRequestID(context.Background(), id))
	require.True(t, ok)
	require.Equal(t, id, got)
}
