package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/db"
	"github.com/jnst/traceable-outbox/internal/db/dbtest"
)

func TestQueries_UniqueViolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := db.New(dbtest.New(t))
	now := time.Now().UTC()

	_, err := q.CreateUser(ctx, &db.CreateUserParams{
		Username: "alice", Email: "alice@example.com", PasswordHash: []byte("x"), CreatedAt: now,
	})
	require.NoError(t, err)

	_, err = q.CreateUser(ctx, &db.CreateUserParams{
		Username: "alice2", Email: "alice@example.com", PasswordHash: []byte("x"), CreatedAt: now,
	})
	require.ErrorIs(t, err, db.ErrUniqueViolation)
}

func TestQueries_NoRows(t *testing.T) {
	t.Parallel()

	_, err := db.New(dbtest.New(t)).GetOrder(context.Background(), 42)
	require.ErrorIs(t, err, db.ErrNoRows)
}

func TestQueries_DecimalRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := db.New(dbtest.New(t))
	now := time.Now().UTC()

	order, err := q.CreateOrder(ctx, &db.CreateOrderParams{
		OrderNumber: "ORD-1-ABCDEF01",
		CustomerID:  7,
		Status:      "PENDING",
		TotalAmount: decimal.RequireFromString("25.10"),
		Version:     1,
		CreatedAt:   now,
	})
	require.NoError(t, err)

	got, err := q.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25.1").Equal(got.TotalAmount), got.TotalAmount.String())
	assert.WithinDuration(t, now, got.CreatedAt, time.Millisecond)
}

func TestQueries_TransactionRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := dbtest.New(t)
	q := db.New(pool)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)

	txCtx := db.NewContextWithTx(ctx, tx)
	_, err = q.Conn(txCtx).CreateUser(txCtx, &db.CreateUserParams{
		Username: "bob", Email: "bob@example.com", PasswordHash: []byte("x"), CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	users, err := q.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestQueries_InsertProcessedEventIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := db.New(dbtest.New(t))
	params := &db.InsertProcessedEventParams{
		Consumer: "order-service", EventID: "evt-1", EventType: "user_created", ProcessedAt: time.Now().UTC(),
	}

	n, err := q.InsertProcessedEvent(ctx, params)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = q.InsertProcessedEvent(ctx, params)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
