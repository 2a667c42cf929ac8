package broker

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// InMemoryBus delivers envelopes to in-process subscribers. Publish hands the
// envelope to every subscriber of its topic; envelopes a handler rejected are
// kept and offered again by Redeliver.
type InMemoryBus struct {
	mu          sync.Mutex
	subscribers map[string][]*subscription
	published   []*Envelope
	undelivered []undelivered
}

type subscription struct {
	handler Handler
}

type undelivered struct {
	sub *subscription
	env *Envelope
}

// NewInMemoryBus returns an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subscribers: make(map[string][]*subscription)}
}

// Publish records env and delivers it synchronously.
func (b *InMemoryBus) Publish(ctx context.Context, env *Envelope) error {
	b.mu.Lock()
	b.published = append(b.published, env)
	subs := slices.Clone(b.subscribers[env.Topic])
	b.mu.Unlock()

	for _, sub := range subs {
		_ = b.deliver(ctx, sub, env)
	}

	return nil
}

// Subscribe registers handler for topics and blocks until ctx is done.
func (b *InMemoryBus) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	sub := &subscription{handler: handler}

	b.mu.Lock()
	for _, topic := range topics {
		b.subscribers[topic] = append(b.subscribers[topic], sub)
	}
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	for _, topic := range topics {
		b.subscribers[topic] = slices.DeleteFunc(b.subscribers[topic], func(s *subscription) bool { return s == sub })
	}
	b.mu.Unlock()

	return nil
}

// Redeliver offers every rejected envelope again and returns the errors of
// the handlers that still fail.
func (b *InMemoryBus) Redeliver(ctx context.Context) error {
	b.mu.Lock()
	pending := b.undelivered
	b.undelivered = nil
	b.mu.Unlock()

	var errs []error
	for _, u := range pending {
		if err := b.deliver(ctx, u.sub, u.env); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Published returns every envelope accepted so far, in publish order.
func (b *InMemoryBus) Published() []*Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.published)
}

// Subscribers returns how many subscriptions topic has.
func (b *InMemoryBus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscribers[topic])
}

func (b *InMemoryBus) deliver(ctx context.Context, sub *subscription, env *Envelope) error {
	err := sub.handler(ctx, env)
	if err != nil {
		b.mu.Lock()
		b.undelivered = append(b.undelivered, undelivered{sub: sub, env: env})
		b.mu.Unlock()
	}

	return err
}
