package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jnst/traceable-outbox/internal/db"
	"github.com/jnst/traceable-outbox/internal/model"
)

// OrderRepositoryImpl implements OrderRepository.
type OrderRepositoryImpl struct {
	db *db.Queries
}

// NewOrderRepositoryImpl creates a new OrderRepository implementation.
func NewOrderRepositoryImpl(pool db.DBTX) OrderRepository {
	return &OrderRepositoryImpl{db: db.New(pool)}
}

// Create inserts the order and its items. It must run inside a transaction so
// that the order never exists without its items. An order number collision
// fails with model.ErrPersistenceConflict.
func (r *OrderRepositoryImpl) Create(ctx context.Context, order *model.Order) (*model.Order, error) {
	q := r.db.Conn(ctx)

	dbOrder, err := q.CreateOrder(ctx, &db.CreateOrderParams{
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.Total,
		Version:     order.Version,
		CreatedAt:   order.CreatedAt,
	})
	if errors.Is(err, db.ErrUniqueViolation) {
		return nil, fmt.Errorf("%w: order number %s already exists", model.ErrPersistenceConflict, order.OrderNumber)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	items := make([]db.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		dbItem, err := q.CreateOrderItem(ctx, &db.CreateOrderItemParams{
			OrderID:   dbOrder.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Subtotal:  item.Subtotal,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}

		items = append(items, dbItem)
	}

	return toOrder(&dbOrder, items), nil
}

// GetByID retrieves an order with its items.
func (r *OrderRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	dbOrder, err := r.db.Conn(ctx).GetOrder(ctx, id)
	if err != nil {
		return nil, notFound(err, model.ErrOrderNotFound)
	}

	return r.withItems(ctx, &dbOrder)
}

// GetByNumber retrieves an order by its order number.
func (r *OrderRepositoryImpl) GetByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	dbOrder, err := r.db.Conn(ctx).GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, notFound(err, model.ErrOrderNotFound)
	}

	return r.withItems(ctx, &dbOrder)
}

// ListByCustomer returns the customer's orders ordered by id.
func (r *OrderRepositoryImpl) ListByCustomer(ctx context.Context, customerID int64) ([]*model.Order, error) {
	dbOrders, err := r.db.Conn(ctx).ListOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	orders := make([]*model.Order, 0, len(dbOrders))
	for i := range dbOrders {
		order, err := r.withItems(ctx, &dbOrders[i])
		if err != nil {
			return nil, err
		}

		orders = append(orders, order)
	}

	return orders, nil
}

// UpdateStatus writes the new status guarded by expectedVersion.
func (r *OrderRepositoryImpl) UpdateStatus(ctx context.Context, order *model.Order, expectedVersion int64) error {
	n, err := r.db.Conn(ctx).UpdateOrderStatus(ctx, &db.UpdateOrderStatusParams{
		ID:              order.ID,
		Status:          string(order.Status),
		Version:         order.Version,
		UpdatedAt:       order.UpdatedAt,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: order %d was modified concurrently", model.ErrPersistenceConflict, order.ID)
	}

	return nil
}

func (r *OrderRepositoryImpl) withItems(ctx context.Context, o *db.Order) (*model.Order, error) {
	items, err := r.db.Conn(ctx).ListOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	return toOrder(o, items), nil
}

func toOrder(o *db.Order, dbItems []db.OrderItem) *model.Order {
	items := make([]model.OrderItem, len(dbItems))
	for i, item := range dbItems {
		items[i] = model.OrderItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Subtotal:  item.Subtotal,
		}
	}

	return &model.Order{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		Status:      model.OrderStatus(o.Status),
		Total:       o.TotalAmount,
		Items:       items,
		Version:     o.Version,
		CreatedAt:   o.CreatedAt.UTC(),
		UpdatedAt:   o.UpdatedAt.UTC(),
	}
}
