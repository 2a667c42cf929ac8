package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/service"
	"github.com/jnst/traceable-outbox/internal/tracing"
)

func createUser(t *testing.T, f *fixture, ctx context.Context, email string) *model.User {
	t.Helper()

	user, err := f.users.CreateUser(ctx, &model.CreateUserParams{Username: "alice", Email: email, Password: "secret1"})
	require.NoError(t, err)

	return user
}

func outboxEvent(t *testing.T, f *fixture, status model.OutboxStatus) *model.OutboxEvent {
	t.Helper()

	events, err := f.outboxRepo.ListByStatus(context.Background(), status, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	return events[0]
}

func TestOutboxService_RelaysWithTraceID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	user := createUser(t, f, tracing.WithID(ctx, "trace-relay-1"), "alice@example.com")

	relayed, err := f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, relayed)

	published := f.bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "trace-relay-1", published[0].TraceID)
	assert.Equal(t, model.TopicUserCreated, published[0].Topic)

	var payload model.UserCreatedEvent
	require.NoError(t, published[0].DecodePayload(&payload))
	assert.Equal(t, user.ID, payload.UserID)

	stored := outboxEvent(t, f, model.OutboxStatusRelayed)
	assert.Equal(t, 1, stored.Attempts)

	relayed, err = f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, relayed)
	assert.Len(t, f.bus.Published(), 1)
}

func TestOutboxService_RetriesWithBackoff(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	createUser(t, f, ctx, "alice@example.com")
	f.publisher.set(1, false)

	relayed, err := f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, relayed)

	pending := outboxEvent(t, f, model.OutboxStatusPending)
	assert.Equal(t, 1, pending.Attempts)
	assert.Equal(t, errBrokerDown.Error(), pending.LastError)
	assert.True(t, f.clock.Now().Add(time.Second).Equal(pending.NextAttemptAt))

	// not due yet
	relayed, err = f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, relayed)

	f.clock.Advance(time.Second)

	relayed, err = f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, relayed)
	assert.Len(t, f.bus.Published(), 1)
}

func TestOutboxService_FailsAfterMaxAttemptsAndRetriesOnRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	createUser(t, f, ctx, "alice@example.com")
	f.publisher.set(3, false)

	for range 3 {
		_, err := f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	failed, err := f.outbox.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Empty(t, f.bus.Published())

	relayed, err := f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, relayed)

	require.NoError(t, f.outbox.Retry(ctx, failed[0].ID))
	require.ErrorIs(t, f.outbox.Retry(ctx, failed[0].ID), model.ErrInvalidTransition)

	relayed, err = f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, relayed)
}

func TestOutboxService_AttemptTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, service.WithAttemptTimeout(20*time.Millisecond))
	ctx := context.Background()
	createUser(t, f, ctx, "alice@example.com")
	f.publisher.set(0, true)

	relayed, err := f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, relayed)

	pending := outboxEvent(t, f, model.OutboxStatusPending)
	assert.Equal(t, 1, pending.Attempts)
	assert.Contains(t, pending.LastError, context.DeadlineExceeded.Error())
}

func TestOutboxService_ShutdownDoesNotCountAsAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	createUser(t, f, context.Background(), "alice@example.com")
	f.publisher.set(0, true)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	relayed, err := f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, relayed)

	pending := outboxEvent(t, f, model.OutboxStatusPending)
	assert.Zero(t, pending.Attempts)
}

func TestOutboxService_PurgeRelayed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	createUser(t, f, ctx, "alice@example.com")

	_, err := f.outbox.ProcessUnpublishedEvents(ctx, "worker-1", 10)
	require.NoError(t, err)

	n, err := f.outbox.PurgeRelayed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(25 * time.Hour)

	n, err = f.outbox.PurgeRelayed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stats, err := f.outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[model.OutboxStatusRelayed])
}

func TestOutboxService_WithoutPublisher(t *testing.T) {
	t.Parallel()

	s := service.NewOutboxServiceImpl(nil, nil, nil)

	_, err := s.ProcessUnpublishedEvents(context.Background(), "worker-1", 10)
	require.ErrorIs(t, err, service.ErrNoPublisher)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{4, 4 * time.Second},
		{10, 4*time.Minute + 16*time.Second},
		{11, 5 * time.Minute},
		{200, 5 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, service.Backoff(500*time.Millisecond, 5*time.Minute, tt.attempts), tt.attempts)
	}
}
