package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/budget/domain"
	"example.com/backstage/budget/keystore"
	"example.com/backstage/budget/messaging"
	"example.com/backstage/budget/models"
	"example.com/backstage/budget/registry"
)

// Mock publisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, tx *gorm.DB, records []models.Event) error {
	args := m.Called(ctx, tx, records)
	return args.Error(0)
}

type fixture struct {
	db    *gorm.DB
	store *GormEventStore
	keys  *keystore.MemoryKeyStore
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "events.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	// One writer at a time
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg, err := registry.New(
		registry.Events(domain.EventCatalog()),
		registry.Streams(domain.StreamCatalog()),
	)
	require.NoError(t, err)
	return reg
}

func newFixture(t *testing.T, pub messaging.Publisher) *fixture {
	t.Helper()

	db := newTestDB(t)
	keys := keystore.NewMemoryKeyStore()

	return &fixture{
		db:    db,
		store: NewGormEventStore(db, newRegistry(t), keys, pub),
		keys:  keys,
	}
}

// useClock makes domain.Now return whole minutes from start, one per call
func useClock(t *testing.T, start time.Time) {
	t.Helper()

	previous := domain.Now
	current := start
	domain.Now = func() time.Time {
		now := current
		current = current.Add(time.Minute)
		return now
	}
	t.Cleanup(func() { domain.Now = previous })
}

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// seedEnvelope stores an envelope created with the given target and credited
// with each amount, one event per minute from epoch.
func seedEnvelope(t *testing.T, f *fixture, owner uuid.UUID, credits ...int64) uuid.UUID {
	t.Helper()

	id := uuid.New()
	env := domain.NewBudgetEnvelope(id)
	require.NoError(t, env.Create(uuid.New(), owner, "Groceries", 50000, "EUR"))
	for _, c := range credits {
		require.NoError(t, env.Credit(uuid.New(), owner, c, "top up"))
	}

	s := f.store.Session()
	defer s.Close()
	require.NoError(t, s.Save(context.Background(), env))
	return id
}

func loadEnvelope(t *testing.T, s *Session, id uuid.UUID, opts ...LoadOption) *domain.BudgetEnvelope {
	t.Helper()

	agg, err := s.Load(context.Background(), id, opts...)
	require.NoError(t, err)

	env, ok := agg.(*domain.BudgetEnvelope)
	require.True(t, ok)
	return env
}

func storedVersions(t *testing.T, f *fixture, id uuid.UUID) []int {
	t.Helper()

	events, err := f.store.Events(context.Background(), id)
	require.NoError(t, err)

	versions := make([]int, len(events))
	for i, e := range events {
		versions[i] = e.StreamVersion
	}
	return versions
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
