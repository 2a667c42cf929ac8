package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EventAction represents the type of event action.
type EventAction string

const (
	// EventActionUserCreated represents the user creation event action.
	EventActionUserCreated EventAction = "user_created"
	// EventActionOrderCreated represents the order creation event action.
	EventActionOrderCreated EventAction = "order_created"
	// EventActionOrderStatusChanged represents an order status transition.
	EventActionOrderStatusChanged EventAction = "order_status_changed"
)

// Broker topics, one per event action.
const (
	TopicUserCreated        = "user-created"
	TopicOrderCreated       = "order-created"
	TopicOrderStatusUpdated = "order-status-updated"
)

// DomainEvent is an event a state change asks the outbox to announce.
type DomainEvent struct {
	Topic      string
	RoutingKey string
	Action     EventAction
	Payload    any
}

// UserCreatedEvent represents the payload for user creation events.
type UserCreatedEvent struct {
	UserID    int64       `json:"user_id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	CreatedAt time.Time   `json:"created_at"`
	Action    EventAction `json:"action"`
}

// OrderCreatedEvent represents the payload for order creation events.
type OrderCreatedEvent struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CustomerID  int64           `json:"customer_id"`
	Status      OrderStatus     `json:"status"`
	Total       decimal.Decimal `json:"total_amount"`
	Items       []OrderItem     `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	Action      EventAction     `json:"action"`
}

// OrderStatusChangedEvent represents the payload for order status transitions.
type OrderStatusChangedEvent struct {
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	CustomerID  int64       `json:"customer_id"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Version     int64       `json:"version"`
	ChangedAt   time.Time   `json:"changed_at"`
	Action      EventAction `json:"action"`
}

// NewUserCreatedEvent announces u, keyed by the user id.
func NewUserCreatedEvent(u *User) *DomainEvent {
	return &DomainEvent{
		Topic:      TopicUserCreated,
		RoutingKey: strconv.FormatInt(u.ID, 10),
		Action:     EventActionUserCreated,
		Payload: UserCreatedEvent{
			UserID:    u.ID,
			Username:  u.Username,
			Email:     u.Email,
			CreatedAt: u.CreatedAt,
			Action:    EventActionUserCreated,
		},
	}
}

// NewOrderCreatedEvent announces o, keyed by the order id.
func NewOrderCreatedEvent(o *Order) *DomainEvent {
	return &DomainEvent{
		Topic:      TopicOrderCreated,
		RoutingKey: strconv.FormatInt(o.ID, 10),
		Action:     EventActionOrderCreated,
		Payload: OrderCreatedEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			CustomerID:  o.CustomerID,
			Status:      o.Status,
			Total:       o.Total,
			Items:       o.Items,
			CreatedAt:   o.CreatedAt,
			Action:      EventActionOrderCreated,
		},
	}
}

// NewOrderStatusChangedEvent announces the move of o from prev to its current status.
func NewOrderStatusChangedEvent(o *Order, prev OrderStatus) *DomainEvent {
	return &DomainEvent{
		Topic:      TopicOrderStatusUpdated,
		RoutingKey: strconv.FormatInt(o.ID, 10),
		Action:     EventActionOrderStatusChanged,
		Payload: OrderStatusChangedEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			CustomerID:  o.CustomerID,
			From:        prev,
			To:          o.Status,
			Version:     o.Version,
			ChangedAt:   o.UpdatedAt,
			Action:      EventActionOrderStatusChanged,
		},
	}
}
