// Package service provides business logic layer implementations.
package service

import (
	"context"
	"time"

	"github.com/jnst/traceable-outbox/internal/model"
)

// Clock returns the current time. Services store what it returns, so it should be UTC.
type Clock func() time.Time

func utcNow() time.Time {
	// Postgres keeps microseconds
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Mutation changes aggregates through repositories using ctx and returns the
// events announcing the change.
type Mutation func(ctx context.Context) ([]*model.DomainEvent, error)

// EventRecorder commits a state change together with the outbox entries announcing it.
type EventRecorder interface {
	RecordChange(ctx context.Context, mutate Mutation) error
}

// UserService defines business logic methods for user management.
type UserService interface {
	CreateUser(ctx context.Context, params *model.CreateUserParams) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// OrderService defines business logic methods for the order aggregate.
type OrderService interface {
	CreateOrder(ctx context.Context, params *model.CreateOrderParams) (*model.Order, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	ListCustomerOrders(ctx context.Context, customerID int64) ([]*model.Order, error)
	TransitionStatus(ctx context.Context, id int64, next model.OrderStatus) (*model.Order, error)
}

// OutboxService defines business logic methods for outbox event processing.
type OutboxService interface {
	EventRecorder

	// ProcessUnpublishedEvents claims up to limit due entries for worker,
	// publishes them and returns how many were relayed.
	ProcessUnpublishedEvents(ctx context.Context, worker string, limit int) (int, error)
	PurgeRelayed(ctx context.Context) (int64, error)
	ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	Retry(ctx context.Context, id int64) error
	Stats(ctx context.Context) (map[model.OutboxStatus]int64, error)
}
