package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/backstage/budget/config"
	"example.com/backstage/budget/crypto"
	"example.com/backstage/budget/database"
	"example.com/backstage/budget/domain"
	"example.com/backstage/budget/eventstore"
	"example.com/backstage/budget/keystore"
	"example.com/backstage/budget/messaging"
	"example.com/backstage/budget/models"
)

type testServices struct {
	db     *gorm.DB
	keys   *keystore.MemoryKeyStore
	outbox *messaging.Outbox
	store  *eventstore.GormEventStore
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "cmd.db")), database.Options(config.DatabaseConfig{}))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	reg, err := newRegistry()
	require.NoError(t, err)

	keys := keystore.NewMemoryKeyStore()
	outbox := messaging.NewOutbox()

	return &testServices{
		db:     db,
		keys:   keys,
		outbox: outbox,
		store:  eventstore.NewGormEventStore(db, reg, keys, outbox),
	}
}

func seedEnvelope(t *testing.T, svc *testServices, at time.Time) uuid.UUID {
	t.Helper()

	previous := domain.Now
	current := at
	domain.Now = func() time.Time {
		now := current
		current = current.Add(time.Hour)
		return now
	}
	defer func() { domain.Now = previous }()

	owner := uuid.New()
	env := domain.NewBudgetEnvelope(uuid.New())
	require.NoError(t, env.Create(uuid.New(), owner, "Savings", 10000, "EUR"))
	require.NoError(t, env.Credit(uuid.New(), owner, 300, "salary"))
	require.NoError(t, env.Credit(uuid.New(), owner, 200, "bonus"))

	s := svc.store.Session()
	defer s.Close()
	require.NoError(t, s.Save(context.Background(), env))
	return env.ID()
}

func TestReplayStreamRequeuesEvents(t *testing.T) {
	svc := newTestServices(t)
	id := seedEnvelope(t, svc, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))

	var before int64
	require.NoError(t, svc.db.Model(&models.OutboxMessage{}).Count(&before).Error)
	require.Equal(t, int64(3), before)

	count, err := replayStream(context.Background(), svc.store, svc.outbox, id)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	var after int64
	require.NoError(t, svc.db.Model(&models.OutboxMessage{}).Where("stream_id = ?", id).Count(&after).Error)
	require.Equal(t, int64(6), after)

	_, err = replayStream(context.Background(), svc.store, svc.outbox, uuid.New())
	require.ErrorIs(t, err, eventstore.ErrAggregateNotFound)
}

func TestRewindStreamPrintsPastState(t *testing.T) {
	svc := newTestServices(t)
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	id := seedEnvelope(t, svc, start)

	var out bytes.Buffer
	require.NoError(t, rewindStream(context.Background(), &out, svc.store, id, start.Add(time.Hour)))

	var view struct {
		Version   int  `json:"version"`
		Rewound   bool `json:"rewound"`
		Aggregate struct {
			State domain.EnvelopeState `json:"state"`
		} `json:"aggregate"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	require.Equal(t, 2, view.Version)
	require.True(t, view.Rewound)
	require.Equal(t, int64(300), view.Aggregate.State.CurrentAmount)
	require.Equal(t, "Savings", view.Aggregate.State.Name)

	// Nothing was written
	events, err := svc.store.Events(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestForgetSubject(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	user := domain.NewUser(uuid.New())
	require.NoError(t, user.SignUp(uuid.New(), "jane@example.com", "Jane", "Doe", true))

	s := svc.store.Session()
	require.NoError(t, s.Save(ctx, user))
	s.Close()

	require.NoError(t, forgetSubject(ctx, svc.keys, user.ID()))

	reader := svc.store.Session()
	defer reader.Close()
	_, err := reader.Load(ctx, user.ID())
	require.ErrorIs(t, err, crypto.ErrKeyNotFound)

	// Forgetting twice reports the missing key
	require.ErrorIs(t, forgetSubject(ctx, svc.keys, user.ID()), crypto.ErrKeyNotFound)
}

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	configureLogging(config.LoggingConfig{Level: "warn", Format: "json"})
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	configureLogging(config.LoggingConfig{Level: "nonsense", Format: "json"})
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestCommandsAreRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"migrate", "replay", "rewind", "dispatch", "forget-subject"} {
		require.True(t, names[want], want)
	}
}
