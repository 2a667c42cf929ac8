// Package repository provides data access interfaces and implementations.
//
// Every repository joins the transaction carried by its context (see
// TransactionManager), so calls made inside WithTransaction commit or roll back together.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jnst/traceable-outbox/internal/model"
)

// ErrLeaseLost is returned when a relay worker reports on an outbox entry it no longer holds.
var ErrLeaseLost = errors.New("outbox lease lost")

// UserRepository defines methods for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
	IncrementOrderCount(ctx context.Context, id int64, now time.Time) error
}

// OrderRepository defines methods for order aggregate data access.
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) (*model.Order, error)
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]*model.Order, error)
	// UpdateStatus persists order.Status, Version and UpdatedAt if the stored
	// version still equals expectedVersion.
	UpdateStatus(ctx context.Context, order *model.Order, expectedVersion int64) error
}

// CustomerRepository defines methods for the order-service's customer projection.
type CustomerRepository interface {
	Upsert(ctx context.Context, customer *model.Customer) error
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
}

// OutboxRepository defines methods for outbox event data access.
type OutboxRepository interface {
	CreateEvent(ctx context.Context, params *model.CreateOutboxEventParams) (*model.OutboxEvent, error)
	GetByID(ctx context.Context, id int64) (*model.OutboxEvent, error)
	ClaimEvents(ctx context.Context, params *model.ClaimOutboxEventsParams) ([]*model.OutboxEvent, error)
	MarkAsRelayed(ctx context.Context, id int64, worker string, now time.Time) error
	ScheduleRetry(ctx context.Context, event *model.OutboxEvent, worker string) error
	MarkAsFailed(ctx context.Context, event *model.OutboxEvent, worker string) error
	ListByStatus(ctx context.Context, status model.OutboxStatus, limit int) ([]*model.OutboxEvent, error)
	CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error)
	Requeue(ctx context.Context, id int64, now time.Time) error
	DeleteRelayedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ProcessedEventRepository records which events a consumer has already applied.
type ProcessedEventRepository interface {
	// MarkProcessed returns false when consumer already recorded eventID.
	MarkProcessed(ctx context.Context, consumer, eventID, eventType string, now time.Time) (bool, error)
	Count(ctx context.Context, consumer string) (int64, error)
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
