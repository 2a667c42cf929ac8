package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/db/dbtest"
	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
)

func enqueue(t *testing.T, outbox repository.OutboxRepository, topic, key string, at time.Time) *model.OutboxEvent {
	t.Helper()

	event, err := outbox.CreateEvent(context.Background(), &model.CreateOutboxEventParams{
		EventID:    uuid.NewString(),
		Topic:      topic,
		RoutingKey: key,
		EventType:  "test",
		Payload:    []byte(`{"k":"` + key + `"}`),
		TraceID:    "trace-" + key,
		CreatedAt:  at,
	})
	require.NoError(t, err)

	return event
}

func claim(t *testing.T, outbox repository.OutboxRepository, worker string, at time.Time) []*model.OutboxEvent {
	t.Helper()

	events, err := outbox.ClaimEvents(context.Background(), &model.ClaimOutboxEventsParams{
		Worker:     worker,
		Now:        at,
		LeaseUntil: at.Add(30 * time.Second),
		Limit:      10,
	})
	require.NoError(t, err)

	return events
}

func ids(events []*model.OutboxEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}

	return out
}

func TestOutboxRepository_ClaimLeasesAreExclusive(t *testing.T) {
	t.Parallel()

	outbox := repository.NewOutboxRepositoryImpl(dbtest.New(t))
	t0 := now()

	a := enqueue(t, outbox, model.TopicOrderCreated, "1", t0)
	b := enqueue(t, outbox, model.TopicOrderCreated, "2", t0)

	first := claim(t, outbox, "worker-a", t0)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(first))
	assert.Equal(t, "trace-1", first[0].TraceID)

	assert.Empty(t, claim(t, outbox, "worker-b", t0.Add(time.Second)))

	// an expired lease can be taken over
	takeover := claim(t, outbox, "worker-b", t0.Add(31*time.Second))
	assert.Equal(t, []int64{a.ID, b.ID}, ids(takeover))

	err := outbox.MarkAsRelayed(context.Background(), a.ID, "worker-a", t0.Add(32*time.Second))
	require.ErrorIs(t, err, repository.ErrLeaseLost)
	require.NoError(t, outbox.MarkAsRelayed(context.Background(), a.ID, "worker-b", t0.Add(32*time.Second)))

	relayed, err := outbox.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusRelayed, relayed.Status)
	assert.Equal(t, 1, relayed.Attempts)
	require.NotNil(t, relayed.RelayedAt)
}

func TestOutboxRepository_ClaimKeepsPerKeyOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := repository.NewOutboxRepositoryImpl(dbtest.New(t))
	t0 := now()

	first := enqueue(t, outbox, model.TopicOrderStatusUpdated, "7", t0)
	second := enqueue(t, outbox, model.TopicOrderStatusUpdated, "7", t0)
	other := enqueue(t, outbox, model.TopicOrderStatusUpdated, "8", t0)

	assert.Equal(t, []int64{first.ID, other.ID}, ids(claim(t, outbox, "w", t0)))
	require.NoError(t, outbox.MarkAsRelayed(ctx, other.ID, "w", t0))

	// a head entry waiting for its retry still blocks the entries behind it
	first.Attempts = 1
	first.NextAttemptAt = t0.Add(time.Minute)
	first.LastError = "broker down"
	require.NoError(t, outbox.ScheduleRetry(ctx, first, "w"))
	assert.Empty(t, claim(t, outbox, "w", t0.Add(time.Second)))

	assert.Equal(t, []int64{first.ID}, ids(claim(t, outbox, "w", t0.Add(time.Minute))))
	require.NoError(t, outbox.MarkAsRelayed(ctx, first.ID, "w", t0.Add(time.Minute)))

	assert.Equal(t, []int64{second.ID}, ids(claim(t, outbox, "w", t0.Add(time.Minute))))
}

func TestOutboxRepository_FailedEntriesNeedRequeue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := repository.NewOutboxRepositoryImpl(dbtest.New(t))
	t0 := now()

	head := enqueue(t, outbox, model.TopicUserCreated, "1", t0)
	next := enqueue(t, outbox, model.TopicUserCreated, "1", t0)

	claimed := claim(t, outbox, "w", t0)
	require.Len(t, claimed, 1)

	head.Attempts = 10
	head.LastError = "broker down"
	require.NoError(t, outbox.MarkAsFailed(ctx, head, "w"))

	assert.Empty(t, claim(t, outbox, "w", t0.Add(time.Hour)))

	failed, err := outbox.ListByStatus(ctx, model.OutboxStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "broker down", failed[0].LastError)

	require.ErrorIs(t, outbox.Requeue(ctx, next.ID, t0), model.ErrInvalidTransition)
	require.ErrorIs(t, outbox.Requeue(ctx, 9999, t0), model.ErrOutboxEventNotFound)
	require.NoError(t, outbox.Requeue(ctx, head.ID, t0.Add(time.Hour)))

	requeued, err := outbox.GetByID(ctx, head.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusPending, requeued.Status)
	assert.Zero(t, requeued.Attempts)

	assert.Equal(t, []int64{head.ID}, ids(claim(t, outbox, "w", t0.Add(time.Hour))))
}

func TestOutboxRepository_DeleteRelayedBefore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := repository.NewOutboxRepositoryImpl(dbtest.New(t))
	t0 := now()

	old := enqueue(t, outbox, model.TopicUserCreated, "1", t0)
	recent := enqueue(t, outbox, model.TopicUserCreated, "2", t0)
	pending := enqueue(t, outbox, model.TopicUserCreated, "3", t0.Add(time.Hour))

	require.Len(t, claim(t, outbox, "w", t0), 2)
	require.NoError(t, outbox.MarkAsRelayed(ctx, old.ID, "w", t0))
	require.NoError(t, outbox.MarkAsRelayed(ctx, recent.ID, "w", t0.Add(48*time.Hour)))

	n, err := outbox.DeleteRelayedBefore(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = outbox.GetByID(ctx, old.ID)
	require.ErrorIs(t, err, model.ErrOutboxEventNotFound)

	for _, id := range []int64{recent.ID, pending.ID} {
		_, err := outbox.GetByID(ctx, id)
		require.NoError(t, err)
	}
}
