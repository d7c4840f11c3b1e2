package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/prothunter/internal/models"
)

func TestOutboxEventValidate(t *testing.T) {
	valid := OutboxEvent{
		AggregateType: "product",
		AggregateID:   "hsn",
		EventType:     "PRICE_UPDATED",
		Payload:       json.RawMessage(`{"price":34.99}`),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*OutboxEvent)
		wantErr string
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }, "aggregate type"},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }, "aggregate id"},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }, "event type"},
		{"empty payload", func(e *OutboxEvent) { e.Payload = nil }, "payload"},
		{"invalid payload", func(e *OutboxEvent) { e.Payload = json.RawMessage(`{`) }, "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := valid
			tt.mutate(&event)
			err := event.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPrepareEvent(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	event := &OutboxEvent{
		AggregateType: "product",
		AggregateID:   "hsn",
		EventType:     "PRICE_UPDATED",
		Payload:       json.RawMessage(`{}`),
	}

	require.NoError(t, prepareEvent(event, "stream:custom", now))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, "stream:custom", event.TargetStream)
	assert.Equal(t, now, event.CreatedAt)
	require.NotNil(t, event.NextRetryAt)
	assert.Equal(t, now, *event.NextRetryAt)

	explicit := &OutboxEvent{
		AggregateType: "product",
		AggregateID:   "hsn",
		EventType:     "PRICE_UPDATED",
		Payload:       json.RawMessage(`{}`),
		TargetStream:  "stream:other",
	}
	require.NoError(t, prepareEvent(explicit, "stream:custom", now))
	assert.Equal(t, "stream:other", explicit.TargetStream)

	assert.Error(t, prepareEvent(&OutboxEvent{}, DefaultStream, now))
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		retries  int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{40, 300 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, retryBackoff(tt.retries), "retries=%d", tt.retries)
	}
}

func TestNextStatus(t *testing.T) {
	assert.Equal(t, OutboxStatusFailed, nextStatus(1))
	assert.Equal(t, OutboxStatusFailed, nextStatus(MaxRetryCount-1))
	assert.Equal(t, OutboxStatusDeadLetter, nextStatus(MaxRetryCount))
}

// setupTestDB connects to PROTHUNTER_TEST_DATABASE_URL, skipping when unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("PROTHUNTER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PROTHUNTER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Exec(ctx, "TRUNCATE price_history, outbox_event")
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}

func TestOutboxRepositoryIntegration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewOutboxRepository(db, "")

	event := &OutboxEvent{
		AggregateType: "product",
		AggregateID:   "hsn",
		EventType:     "PRICE_UPDATED",
		Payload:       json.RawMessage(`{"price":34.99}`),
	}
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, DefaultStream, pending[0].TargetStream)

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))
	count, err := repo.CountByStatus(ctx, OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	count, err = repo.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPriceRepositoryIntegration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewPriceRepository(db)
	runID := uuid.New()

	older := time.Now().Add(-time.Hour).Truncate(time.Second)
	newer := time.Now().Truncate(time.Second)
	records := []models.OutputRecord{
		{ID: "hsn", Brand: "HSN", Name: "Evowhey", Price: 36.50, WeightKg: 2, ProteinPercent: 78, Category: "protein", FetchedAt: older},
		{ID: "hsn", Brand: "HSN", Name: "Evowhey", Price: 34.99, WeightKg: 2, ProteinPercent: 78, Category: "protein", FetchedAt: newer},
	}

	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := repo.InsertWithTx(ctx, tx, runID, rec); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		price, ok, err := repo.PreviousPrice(ctx, tx, "hsn")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 34.99, price)

		_, ok, err = repo.PreviousPrice(ctx, tx, "prozis")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 34.99, latest[0].Price)
}
