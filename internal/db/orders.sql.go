package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const orderColumns = `id, order_number, customer_id, status, total_amount, version, created_at, updated_at`

func scanOrder(row Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.Status, &o.TotalAmount, &o.Version, &o.CreatedAt, &o.UpdatedAt)

	return o, err
}

const createOrder = `
INSERT INTO orders (order_number, customer_id, status, total_amount, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OrderNumber string
	CustomerID  int64
	Status      string
	TotalAmount decimal.Decimal
	Version     int64
	CreatedAt   time.Time
}

func (q *Queries) CreateOrder(ctx context.Context, arg *CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber, arg.CustomerID, arg.Status, arg.TotalAmount, arg.Version, arg.CreatedAt))
}

const createOrderItem = `
INSERT INTO order_items (order_id, product_id, quantity, price, subtotal)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, order_id, product_id, quantity, price, subtotal`

type CreateOrderItemParams struct {
	OrderID   int64
	ProductID string
	Quantity  int64
	Price     decimal.Decimal
	Subtotal  decimal.Decimal
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg *CreateOrderItemParams) (OrderItem, error) {
	var i OrderItem
	err := q.db.QueryRow(ctx, createOrderItem, arg.OrderID, arg.ProductID, arg.Quantity, arg.Price, arg.Subtotal).
		Scan(&i.ID, &i.OrderID, &i.ProductID, &i.Quantity, &i.Price, &i.Subtotal)

	return i, err
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderByNumber = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

func (q *Queries) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByNumber, orderNumber))
}

const listOrdersByCustomer = `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 ORDER BY id`

func (q *Queries) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersByCustomer, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}

	return items, rows.Err()
}

const listOrderItems = `
SELECT id, order_id, product_id, quantity, price, subtotal
FROM order_items WHERE order_id = $1 ORDER BY id`

func (q *Queries) ListOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItems, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(&i.ID, &i.OrderID, &i.ProductID, &i.Quantity, &i.Price, &i.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, i)
	}

	return items, rows.Err()
}

// The version predicate makes the status write fail when another writer got there first.
const updateOrderStatus = `
UPDATE orders SET status = $2, version = $3, updated_at = $4
WHERE id = $1 AND version = $5`

type UpdateOrderStatusParams struct {
	ID              int64
	Status          string
	Version         int64
	UpdatedAt       time.Time
	ExpectedVersion int64
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg *UpdateOrderStatusParams) (int64, error) {
	return q.db.Exec(ctx, updateOrderStatus, arg.ID, arg.Status, arg.Version, arg.UpdatedAt, arg.ExpectedVersion)
}
