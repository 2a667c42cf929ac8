package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial status of every order.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed marks an order accepted for fulfilment.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
	OrderStatusDelivered: nil,
	OrderStatusCancelled: nil,
}

// ParseOrderStatus accepts a status name in any letter case.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := orderTransitions[status]; !ok {
		verr := NewValidationError()
		verr.Add("status", fmt.Sprintf("unknown order status %q", s))

		return "", verr
	}

	return status, nil
}

// CanTransitionTo reports whether next is directly reachable from s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// OrderItem is an immutable line of an order.
type OrderItem struct {
	ID        int64           `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Order is the order aggregate. Items and Total never change after creation;
// Status moves only through Transition.
type Order struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	CustomerID  int64           `json:"customer_id"`
	Status      OrderStatus     `json:"status"`
	Total       decimal.Decimal `json:"total_amount"`
	Items       []OrderItem     `json:"items"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateOrderItemParams represents one requested order line.
type CreateOrderItemParams struct {
	ProductID string           `json:"product_id"`
	Quantity  int64            `json:"quantity"`
	Price     *decimal.Decimal `json:"price"`
}

// CreateOrderParams represents parameters for creating a new order.
type CreateOrderParams struct {
	CustomerID int64                   `json:"customer_id"`
	Items      []CreateOrderItemParams `json:"items"`
}

// Validate validates the create order parameters.
func (p *CreateOrderParams) Validate() error {
	verr := NewValidationError()

	if p.CustomerID <= 0 {
		verr.Add("customer_id", "customer id is required")
	}

	if len(p.Items) == 0 {
		verr.Add("items", "at least one item is required")
	}

	for i, item := range p.Items {
		prefix := fmt.Sprintf("items[%d].", i)

		if strings.TrimSpace(item.ProductID) == "" {
			verr.Add(prefix+"product_id", "product id is required")
		}

		if item.Quantity < 1 {
			verr.Add(prefix+"quantity", "quantity must be at least 1")
		}

		switch {
		case item.Price == nil:
			verr.Add(prefix+"price", "price is required")
		case item.Price.IsNegative():
			verr.Add(prefix+"price", "price must not be negative")
		}
	}

	return verr.OrNil()
}

// NewOrder builds a PENDING order from validated params. The total is the exact
// decimal sum of quantity × price over all items.
func NewOrder(params *CreateOrderParams, orderNumber string, now time.Time) (*Order, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	items := make([]OrderItem, len(params.Items))
	for i, item := range params.Items {
		items[i] = OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Price:     *item.Price,
			Subtotal:  item.Price.Mul(decimal.NewFromInt(item.Quantity)),
		}
	}

	return &Order{
		OrderNumber: orderNumber,
		CustomerID:  params.CustomerID,
		Status:      OrderStatusPending,
		Total:       CalculateTotal(items),
		Items:       items,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CalculateTotal sums quantity × price over items without rounding.
func CalculateTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(item.Quantity)))
	}

	return total
}

// Transition moves the order to next and returns the previous status. The order
// is left untouched when next is not reachable.
func (o *Order) Transition(next OrderStatus, now time.Time) (OrderStatus, error) {
	prev := o.Status
	if !prev.CanTransitionTo(next) {
		return prev, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}

	o.Status = next
	o.Version++
	o.UpdatedAt = now

	return prev, nil
}

// NewOrderNumber returns ORD-<unix millis>-<8 random upper hex>. Uniqueness is
// overwhelmingly likely, not guaranteed; the store enforces it.
func NewOrderNumber(now time.Time) string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), random)
}
