package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/budget/config"
	"example.com/backstage/budget/models"
)

// Mock bus for testing
type MockBus struct {
	mock.Mock
}

func (m *MockBus) Send(ctx context.Context, msg *BusMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "outbox.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.OutboxMessage{}))

	// One writer at a time
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func records(stream uuid.UUID, versions ...int) []models.Event {
	out := make([]models.Event, len(versions))
	for i, v := range versions {
		out[i] = models.Event{
			ID:            uint(v),
			StreamID:      stream,
			StreamName:    "budget_envelope",
			EventName:     "V1_ENVELOPE_CREDITED",
			Payload:       []byte(fmt.Sprintf(`{"amount":%d}`, v*100)),
			OccurredOn:    time.Date(2024, 3, 1, 10, v, 0, 0, time.UTC),
			StreamVersion: v,
			RequestID:     uuid.New(),
		}
	}
	return out
}

func enqueueAll(t *testing.T, db *gorm.DB, batches ...[]models.Event) {
	t.Helper()

	outbox := NewOutbox()
	for _, b := range batches {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return outbox.Publish(context.Background(), tx, b)
		}))
	}
}

func unpublished(t *testing.T, db *gorm.DB) []models.OutboxMessage {
	t.Helper()

	var out []models.OutboxMessage
	require.NoError(t, db.Where("published_at IS NULL").Order("stream_version").Find(&out).Error)
	return out
}

func TestOutboxPublishIsTransactional(t *testing.T) {
	db := newTestDB(t)
	stream := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := NewOutbox().Publish(context.Background(), tx, records(stream, 1, 2)); err != nil {
			return err
		}
		return errors.New("rollback")
	})
	require.Error(t, err)
	require.Empty(t, unpublished(t, db))

	enqueueAll(t, db, records(stream, 1, 2))
	msgs := unpublished(t, db)
	require.Len(t, msgs, 2)
	require.Equal(t, stream, msgs[0].StreamID)
	require.Equal(t, 1, msgs[0].StreamVersion)
	require.Equal(t, uint(1), msgs[0].EventID)
	require.JSONEq(t, `{"amount":100}`, string(msgs[0].Payload))
}

func TestNewBusMessage(t *testing.T) {
	stream := uuid.New()
	m := models.OutboxMessage{
		ID:            uuid.New(),
		StreamID:      stream,
		StreamName:    "user",
		EventName:     "V1_USER_RENAMED",
		StreamVersion: 4,
		Payload:       []byte(`{"firstname":"x"}`),
		OccurredOn:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	msg, err := NewBusMessage(m)
	require.NoError(t, err)
	require.Equal(t, stream.String()+":4", msg.ID)
	require.Equal(t, stream.String(), msg.SessionID)
	require.Equal(t, "V1_USER_RENAMED", msg.Subject)

	var body EventMessage
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	require.Equal(t, 4, body.StreamVersion)
	require.JSONEq(t, `{"firstname":"x"}`, string(body.Payload))
}

func TestRequeuedMessagesGetTheirOwnID(t *testing.T) {
	db := newTestDB(t)
	stream := uuid.New()
	stored := records(stream, 1)
	enqueueAll(t, db, stored)

	outbox := NewOutbox()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return outbox.Requeue(context.Background(), tx, stored)
	}))

	msgs := unpublished(t, db)
	require.Len(t, msgs, 2)

	ids := map[bool]string{}
	for _, m := range msgs {
		msg, err := NewBusMessage(m)
		require.NoError(t, err)
		require.Equal(t, m.Requeued, msg.Properties["requeued"])
		ids[m.Requeued] = msg.ID
	}

	require.Equal(t, stream.String()+":1", ids[false])
	require.True(t, strings.HasPrefix(ids[true], stream.String()+":1:"))
	require.NotEqual(t, ids[false], ids[true])
}

func TestDispatchBatchPublishes(t *testing.T) {
	db := newTestDB(t)
	stream := uuid.New()
	enqueueAll(t, db, records(stream, 1, 2, 3))

	bus := new(MockBus)
	var sent []string
	bus.On("Send", mock.Anything, mock.AnythingOfType("*messaging.BusMessage")).
		Run(func(args mock.Arguments) {
			sent = append(sent, args.Get(1).(*BusMessage).ID)
		}).
		Return(nil)

	d := NewDispatcher(db, bus, nil, config.OutboxConfig{BatchSize: 10})
	n, err := d.DispatchBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{
		stream.String() + ":1",
		stream.String() + ":2",
		stream.String() + ":3",
	}, sent)
	require.Empty(t, unpublished(t, db))

	// Nothing left
	n, err = d.DispatchBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
	bus.AssertNumberOfCalls(t, "Send", 3)
}

func TestDispatchBatchFailureKeepsStreamOrder(t *testing.T) {
	db := newTestDB(t)
	failing, healthy := uuid.New(), uuid.New()
	enqueueAll(t, db, records(failing, 1, 2), records(healthy, 1))

	bus := new(MockBus)
	bus.On("Send", mock.Anything, mock.MatchedBy(func(m *BusMessage) bool {
		return m.ID == failing.String()+":1"
	})).Return(errors.New("bus unavailable")).Once()
	bus.On("Send", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(db, bus, nil, config.OutboxConfig{BatchSize: 10})
	n, err := d.DispatchBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	left := unpublished(t, db)
	require.Len(t, left, 2)
	for _, m := range left {
		require.Equal(t, failing, m.StreamID)
	}
	require.Equal(t, 1, left[0].AttemptCount)
	require.NotNil(t, left[0].LastError)
	require.Equal(t, "bus unavailable", *left[0].LastError)
	require.Equal(t, 0, left[1].AttemptCount)

	// Retried in order on the next batch
	n, err = d.DispatchBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Empty(t, unpublished(t, db))

	var first models.OutboxMessage
	require.NoError(t, db.Where("stream_id = ? AND stream_version = ?", failing, 1).First(&first).Error)
	require.Equal(t, 2, first.AttemptCount)
	require.Nil(t, first.LastError)
}

func TestDispatchBatchSize(t *testing.T) {
	db := newTestDB(t)
	enqueueAll(t, db, records(uuid.New(), 1, 2, 3, 4, 5))

	bus := new(MockBus)
	bus.On("Send", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(db, bus, nil, config.OutboxConfig{BatchSize: 2})
	n, err := d.DispatchBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, unpublished(t, db), 3)
}

func TestDispatcherRunStopsWithContext(t *testing.T) {
	db := newTestDB(t)
	enqueueAll(t, db, records(uuid.New(), 1))

	bus := new(MockBus)
	bus.On("Send", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(db, bus, nil, config.OutboxConfig{BatchSize: 10, Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		var count int64
		err := db.Model(&models.OutboxMessage{}).Where("published_at IS NULL").Count(&count).Error
		return err == nil && count == 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
