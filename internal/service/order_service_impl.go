package service

import (
	"context"
	"log/slog"

	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
)

// OrderServiceImpl implements OrderService.
type OrderServiceImpl struct {
	orderRepo repository.OrderRepository
	recorder  EventRecorder

	now Clock
}

// OrderOption configures OrderServiceImpl.
type OrderOption func(*OrderServiceImpl)

// WithOrderClock replaces the wall clock.
func WithOrderClock(now Clock) OrderOption {
	return func(s *OrderServiceImpl) { s.now = now }
}

// NewOrderServiceImpl creates a new OrderService implementation.
func NewOrderServiceImpl(orderRepo repository.OrderRepository, recorder EventRecorder, opts ...OrderOption) OrderService {
	s := &OrderServiceImpl{
		orderRepo: orderRepo,
		recorder:  recorder,
		now:       utcNow,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateOrder stores a PENDING order with its items and an order-created event
// keyed by the new order id.
func (s *OrderServiceImpl) CreateOrder(ctx context.Context, params *model.CreateOrderParams) (*model.Order, error) {
	now := s.now()

	order, err := model.NewOrder(params, model.NewOrderNumber(now), now)
	if err != nil {
		return nil, err
	}

	var createdOrder *model.Order

	err = s.recorder.RecordChange(ctx, func(ctx context.Context) ([]*model.DomainEvent, error) {
		created, err := s.orderRepo.Create(ctx, order)
		if err != nil {
			return nil, err
		}

		createdOrder = created

		return []*model.DomainEvent{model.NewOrderCreatedEvent(created)}, nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order created",
		slog.Int64("order_id", createdOrder.ID),
		slog.String("order_number", createdOrder.OrderNumber),
		slog.Int64("customer_id", createdOrder.CustomerID),
		slog.String("total_amount", createdOrder.Total.String()),
	)

	return createdOrder, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderServiceImpl) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// GetOrderByNumber retrieves an order by its order number.
func (s *OrderServiceImpl) GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return s.orderRepo.GetByNumber(ctx, orderNumber)
}

// ListCustomerOrders returns the orders of a customer.
func (s *OrderServiceImpl) ListCustomerOrders(ctx context.Context, customerID int64) ([]*model.Order, error) {
	return s.orderRepo.ListByCustomer(ctx, customerID)
}

// TransitionStatus moves the order to next and records an order-status-updated
// event. The write is guarded by the version read, so of two concurrent
// transitions from the same status only one commits.
func (s *OrderServiceImpl) TransitionStatus(
	ctx context.Context, id int64, next model.OrderStatus,
) (*model.Order, error) {
	var updated *model.Order

	err := s.recorder.RecordChange(ctx, func(ctx context.Context) ([]*model.DomainEvent, error) {
		order, err := s.orderRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		expectedVersion := order.Version

		prev, err := order.Transition(next, s.now())
		if err != nil {
			return nil, err
		}

		if err := s.orderRepo.UpdateStatus(ctx, order, expectedVersion); err != nil {
			return nil, err
		}

		updated = order

		return []*model.DomainEvent{model.NewOrderStatusChangedEvent(order, prev)}, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "order status transition rejected",
			slog.Int64("order_id", id),
			slog.String("requested", string(next)),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	slog.InfoContext(ctx, "order status updated",
		slog.Int64("order_id", updated.ID),
		slog.String("status", string(updated.Status)),
		slog.Int64("version", updated.Version),
	)

	return updated, nil
}
