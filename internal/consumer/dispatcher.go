// Package consumer applies events received from other services exactly once.
//
// A Dispatcher maps event types to handlers. Each handler runs in a
// transaction that first inserts a processed-event marker keyed by the
// event id, so a redelivered event finds the marker and is skipped, and a
// failed handler rolls the marker back with its own writes.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
	"github.com/jnst/traceable-outbox/internal/tracing"
)

// Handler applies the business effect of one event. It runs inside the
// dispatcher's transaction; repositories called with ctx join it.
type Handler func(ctx context.Context, env *broker.Envelope) error

// Route binds an event type published on Topic to its Handler.
type Route struct {
	Topic     string
	EventType model.EventAction
	Handler   Handler
}

// Dispatcher deduplicates deliveries and routes them by event type.
type Dispatcher struct {
	name           string
	transactionMgr repository.TransactionManager
	processed      repository.ProcessedEventRepository
	routes         map[string]Route
	now            func() time.Time
}

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock replaces the wall clock used for processed markers.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher returns a dispatcher recording markers under name.
func NewDispatcher(
	name string,
	transactionMgr repository.TransactionManager,
	processed repository.ProcessedEventRepository,
	routes []Route,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		name:           name,
		transactionMgr: transactionMgr,
		processed:      processed,
		routes:         make(map[string]Route, len(routes)),
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, route := range routes {
		d.routes[string(route.EventType)] = route
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Name returns the consumer name markers are recorded under.
func (d *Dispatcher) Name() string {
	return d.name
}

// Topics returns the topics the routes listen on.
func (d *Dispatcher) Topics() []string {
	topics := make(map[string]struct{}, len(d.routes))
	for _, route := range d.routes {
		topics[route.Topic] = struct{}{}
	}

	return slices.Sorted(maps.Keys(topics))
}

// Handle applies env at most once. It returns an error only when the delivery
// should be retried; the broker then leaves the message unacknowledged.
func (d *Dispatcher) Handle(ctx context.Context, env *broker.Envelope) error {
	ctx, _ = tracing.Continue(ctx, env.TraceID)

	route, ok := d.routes[env.EventType]
	if !ok {
		slog.WarnContext(ctx, "unknown event type",
			slog.String("event_type", env.EventType),
			slog.String("event_id", env.EventID),
		)

		return nil
	}

	applied := false

	err := d.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		first, err := d.processed.MarkProcessed(ctx, d.name, env.EventID, env.EventType, d.now())
		if err != nil {
			return err
		}

		if !first {
			return nil
		}

		applied = true

		return route.Handler(ctx, env)
	})

	switch {
	case errors.Is(err, broker.ErrMalformedMessage):
		slog.ErrorContext(ctx, "dropping event with undecodable payload",
			slog.String("event_type", env.EventType),
			slog.String("event_id", env.EventID),
			slog.String("error", err.Error()),
		)

		return nil
	case err != nil:
		return err
	case !applied:
		slog.InfoContext(ctx, "duplicate event skipped",
			slog.String("consumer", d.name),
			slog.String("event_type", env.EventType),
			slog.String("event_id", env.EventID),
		)
	default:
		slog.InfoContext(ctx, "event processed",
			slog.String("consumer", d.name),
			slog.String("event_type", env.EventType),
			slog.String("event_id", env.EventID),
			slog.String("routing_key", env.RoutingKey),
		)
	}

	return nil
}
