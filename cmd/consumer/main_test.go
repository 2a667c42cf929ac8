package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/config"
	"github.com/jnst/traceable-outbox/internal/consumer"
	"github.com/jnst/traceable-outbox/internal/db/dbtest"
	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
)

func TestRoutesFor(t *testing.T) {
	t.Parallel()

	pool := dbtest.New(t)

	tests := []struct {
		service string
		topics  []string
		wantErr bool
	}{
		{service: config.ServiceUsers, topics: []string{model.TopicOrderCreated, model.TopicOrderStatusUpdated}},
		{service: config.ServiceOrders, topics: []string{model.TopicUserCreated}},
		{service: "billing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			routes, err := routesFor(tt.service, pool)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			topics := make([]string, len(routes))
			for i, r := range routes {
				topics[i] = r.Topic
			}
			assert.ElementsMatch(t, tt.topics, topics)
		})
	}
}

func newDispatcher(t *testing.T) *consumer.Dispatcher {
	t.Helper()

	pool := dbtest.New(t)
	routes, err := routesFor(config.ServiceOrders, pool)
	require.NoError(t, err)

	return consumer.NewDispatcher("orders-service",
		repository.NewTransactionManagerImpl(pool),
		repository.NewProcessedEventRepositoryImpl(pool),
		routes,
	)
}

func TestRunConsumerLoopSubscribesDispatcherTopics(t *testing.T) {
	t.Parallel()

	bus := broker.NewInMemoryBus()
	dispatcher := newDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		runConsumerLoop(ctx, bus, dispatcher)
	}()

	require.Eventually(t, func() bool {
		return bus.Subscribers(model.TopicUserCreated) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer loop did not stop")
	}

	assert.Zero(t, bus.Subscribers(model.TopicUserCreated))
}

type droppingSubscriber struct {
	attempts atomic.Int32
}

func (s *droppingSubscriber) Subscribe(context.Context, []string, broker.Handler) error {
	s.attempts.Add(1)
	return errors.New("connection reset")
}

func TestRunConsumerLoopResubscribes(t *testing.T) {
	t.Parallel()

	subscriber := &droppingSubscriber{}
	dispatcher := newDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		runConsumerLoop(ctx, subscriber, dispatcher)
	}()

	require.Eventually(t, func() bool {
		return subscriber.attempts.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
