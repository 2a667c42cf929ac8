package consumer_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/consumer"
	"github.com/jnst/traceable-outbox/internal/db/dbtest"
	"github.com/jnst/traceable-outbox/internal/logger"
	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func envelope(t *testing.T, topic string, action model.EventAction, payload any) *broker.Envelope {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	return &broker.Envelope{
		EventID:    uuid.NewString(),
		Topic:      topic,
		RoutingKey: "1",
		EventType:  string(action),
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}
}

type orderSide struct {
	customers  repository.CustomerRepository
	processed  repository.ProcessedEventRepository
	dispatcher *consumer.Dispatcher
}

func newOrderSide(t *testing.T) *orderSide {
	t.Helper()

	pool := dbtest.New(t)
	customers := repository.NewCustomerRepositoryImpl(pool)
	processed := repository.NewProcessedEventRepositoryImpl(pool)

	return &orderSide{
		customers: customers,
		processed: processed,
		dispatcher: consumer.NewDispatcher("order-service",
			repository.NewTransactionManagerImpl(pool), processed, consumer.OrderServiceRoutes(customers)),
	}
}

type userSide struct {
	users      repository.UserRepository
	processed  repository.ProcessedEventRepository
	dispatcher *consumer.Dispatcher
}

func newUserSide(t *testing.T) *userSide {
	t.Helper()

	pool := dbtest.New(t)
	users := repository.NewUserRepositoryImpl(pool)
	processed := repository.NewProcessedEventRepositoryImpl(pool)

	return &userSide{
		users:     users,
		processed: processed,
		dispatcher: consumer.NewDispatcher("user-service",
			repository.NewTransactionManagerImpl(pool), processed, consumer.UserServiceRoutes(users)),
	}
}

func (s *userSide) addUser(t *testing.T) *model.User {
	t.Helper()

	user, err := s.users.Create(context.Background(), &model.User{
		Username: "alice", Email: "alice@example.com", PasswordHash: []byte("h"), CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	return user
}

func TestDispatcher_Topics(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{model.TopicOrderCreated, model.TopicOrderStatusUpdated},
		newUserSide(t).dispatcher.Topics())
	assert.Equal(t, []string{model.TopicUserCreated}, newOrderSide(t).dispatcher.Topics())
}

func TestDispatcher_DuplicateDeliveryHasSameEffectAsSingle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := envelope(t, model.TopicUserCreated, model.EventActionUserCreated, model.UserCreatedEvent{
		UserID: 5, Username: "bob", Email: "bob@example.com", CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	})

	once := newOrderSide(t)
	require.NoError(t, once.dispatcher.Handle(ctx, env))

	twice := newOrderSide(t)
	require.NoError(t, twice.dispatcher.Handle(ctx, env))
	require.NoError(t, twice.dispatcher.Handle(ctx, env))

	a, err := once.customers.GetByID(ctx, 5)
	require.NoError(t, err)
	b, err := twice.customers.GetByID(ctx, 5)
	require.NoError(t, err)

	a.SyncedAt, b.SyncedAt = time.Time{}, time.Time{}
	assert.Equal(t, a, b)

	n, err := twice.processed.Count(ctx, "order-service")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDispatcher_OrderCountAppliedOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	side := newUserSide(t)
	user := side.addUser(t)

	env := envelope(t, model.TopicOrderCreated, model.EventActionOrderCreated, model.OrderCreatedEvent{
		OrderID: 1, OrderNumber: "ORD-1-AAAAAAAA", CustomerID: user.ID,
	})

	for range 3 {
		require.NoError(t, side.dispatcher.Handle(ctx, env))
	}

	got, err := side.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.OrderCount)
}

func TestDispatcher_FailedHandlerLeavesNoMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := dbtest.New(t)
	processed := repository.NewProcessedEventRepositoryImpl(pool)
	users := repository.NewUserRepositoryImpl(pool)

	calls := 0
	dispatcher := consumer.NewDispatcher("user-service", repository.NewTransactionManagerImpl(pool), processed,
		[]consumer.Route{{
			Topic:     model.TopicOrderCreated,
			EventType: model.EventActionOrderCreated,
			Handler: func(ctx context.Context, env *broker.Envelope) error {
				calls++
				if err := consumer.OrderCounter(users)(ctx, env); err != nil {
					return err
				}
				if calls == 1 {
					return errors.New("transient")
				}

				return nil
			},
		}})

	user, err := users.Create(ctx, &model.User{
		Username: "carol", Email: "carol@example.com", PasswordHash: []byte("h"), CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	env := envelope(t, model.TopicOrderCreated, model.EventActionOrderCreated, model.OrderCreatedEvent{
		OrderID: 1, CustomerID: user.ID,
	})

	require.Error(t, dispatcher.Handle(ctx, env))

	n, err := processed.Count(ctx, "user-service")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, got.OrderCount)

	// redelivery
	require.NoError(t, dispatcher.Handle(ctx, env))
	require.NoError(t, dispatcher.Handle(ctx, env))

	got, err = users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.OrderCount)
	assert.Equal(t, 2, calls)
}

func TestDispatcher_UnknownAndMalformedEventsAreAcked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	side := newOrderSide(t)

	unknown := envelope(t, "somewhere", "something_else", map[string]string{})
	require.NoError(t, side.dispatcher.Handle(ctx, unknown))

	malformed := envelope(t, model.TopicUserCreated, model.EventActionUserCreated, "not an object")
	require.NoError(t, side.dispatcher.Handle(ctx, malformed))

	n, err := side.processed.Count(ctx, "order-service")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher_LogsUnderCarriedTraceID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logger.New(&buf, "info", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	side := newUserSide(t)
	user := side.addUser(t)

	env := envelope(t, model.TopicOrderCreated, model.EventActionOrderCreated, model.OrderCreatedEvent{
		OrderID: 1, CustomerID: user.ID,
	})
	env.TraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	require.NoError(t, side.dispatcher.Handle(context.Background(), env))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)

	for _, line := range lines {
		assert.Contains(t, line, `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`)
	}
}
