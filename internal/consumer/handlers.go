package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jnst/traceable-outbox/internal/broker"
	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
)

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CustomerProjector keeps the order-service's customers table in step with user-created events.
func CustomerProjector(customers repository.CustomerRepository) Handler {
	return func(ctx context.Context, env *broker.Envelope) error {
		var event model.UserCreatedEvent
		if err := env.DecodePayload(&event); err != nil {
			return err
		}

		if err := customers.Upsert(ctx, &model.Customer{
			ID:        event.UserID,
			Username:  event.Username,
			Email:     event.Email,
			CreatedAt: event.CreatedAt,
			SyncedAt:  utcNow(),
		}); err != nil {
			return err
		}

		slog.InfoContext(ctx, "customer synced",
			slog.Int64("customer_id", event.UserID),
			slog.String("username", event.Username),
		)

		return nil
	}
}

// OrderCounter increments the ordering user's order count on order-created events.
// Orders for users this service does not know are logged and skipped.
func OrderCounter(users repository.UserRepository) Handler {
	return func(ctx context.Context, env *broker.Envelope) error {
		var event model.OrderCreatedEvent
		if err := env.DecodePayload(&event); err != nil {
			return err
		}

		err := users.IncrementOrderCount(ctx, event.CustomerID, utcNow())
		if errors.Is(err, model.ErrUserNotFound) {
			slog.WarnContext(ctx, "order for unknown user",
				slog.Int64("order_id", event.OrderID),
				slog.Int64("customer_id", event.CustomerID),
			)

			return nil
		}

		if err != nil {
			return err
		}

		slog.InfoContext(ctx, "user order count incremented",
			slog.Int64("user_id", event.CustomerID),
			slog.Int64("order_id", event.OrderID),
			slog.String("order_number", event.OrderNumber),
		)

		return nil
	}
}

// StatusChangeLogger records order status changes in the log.
func StatusChangeLogger() Handler {
	return func(ctx context.Context, env *broker.Envelope) error {
		var event model.OrderStatusChangedEvent
		if err := env.DecodePayload(&event); err != nil {
			return err
		}

		slog.InfoContext(ctx, "order status changed",
			slog.Int64("order_id", event.OrderID),
			slog.Int64("customer_id", event.CustomerID),
			slog.String("from", string(event.From)),
			slog.String("to", string(event.To)),
		)

		return nil
	}
}

// UserServiceRoutes is the user-service's dispatch table.
func UserServiceRoutes(users repository.UserRepository) []Route {
	return []Route{
		{Topic: model.TopicOrderCreated, EventType: model.EventActionOrderCreated, Handler: OrderCounter(users)},
		{Topic: model.TopicOrderStatusUpdated, EventType: model.EventActionOrderStatusChanged, Handler: StatusChangeLogger()},
	}
}

// OrderServiceRoutes is the order-service's dispatch table.
func OrderServiceRoutes(customers repository.CustomerRepository) []Route {
	return []Route{
		{Topic: model.TopicUserCreated, EventType: model.EventActionUserCreated, Handler: CustomerProjector(customers)},
	}
}
