package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/db/dbtest"
	"github.com/jnst/traceable-outbox/internal/repository"
	"github.com/jnst/traceable-outbox/internal/service"
)

var errBrokerDown = errors.New("broker down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// flakyPublisher fails the first failures publishes, then forwards to next.
type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	block    bool
	next     broker.Publisher
}

func (p *flakyPublisher) Publish(ctx context.Context, env *broker.Envelope) error {
	p.mu.Lock()
	block := p.block
	fail := p.failures > 0
	if fail {
		p.failures--
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	if fail {
		return errBrokerDown
	}

	return p.next.Publish(ctx, env)
}

func (p *flakyPublisher) set(failures int, block bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures = failures
	p.block = block
}

type fixture struct {
	clock      *fakeClock
	bus        *broker.InMemoryBus
	publisher  *flakyPublisher
	outboxRepo repository.OutboxRepository
	outbox     *service.OutboxServiceImpl
	users      service.UserService
	orders     service.OrderService
}

func newFixture(t *testing.T, opts ...service.OutboxOption) *fixture {
	t.Helper()

	pool := dbtest.New(t)
	clock := newFakeClock()
	bus := broker.NewInMemoryBus()
	publisher := &flakyPublisher{next: bus}

	outboxRepo := repository.NewOutboxRepositoryImpl(pool)
	outbox := service.NewOutboxServiceImpl(
		outboxRepo,
		repository.NewTransactionManagerImpl(pool),
		publisher,
		append([]service.OutboxOption{
			service.WithOutboxClock(clock.Now),
			service.WithBackoff(time.Second, time.Minute),
			service.WithMaxAttempts(3),
			service.WithAttemptTimeout(time.Second),
			service.WithLease(10 * time.Second),
			service.WithRetention(24 * time.Hour),
		}, opts...)...,
	)

	return &fixture{
		clock:      clock,
		bus:        bus,
		publisher:  publisher,
		outboxRepo: outboxRepo,
		outbox:     outbox,
		users: service.NewUserServiceImpl(repository.NewUserRepositoryImpl(pool), outbox,
			service.WithUserClock(clock.Now), service.WithPasswordCost(bcrypt.MinCost)),
		orders: service.NewOrderServiceImpl(repository.NewOrderRepositoryImpl(pool), outbox,
			service.WithOrderClock(clock.Now)),
	}
}
