package db

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash []byte
	OrderCount   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Order struct {
	ID          int64
	OrderNumber string
	CustomerID  int64
	Status      string
	TotalAmount decimal.Decimal
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID string
	Quantity  int64
	Price     decimal.Decimal
	Subtotal  decimal.Decimal
}

type Customer struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
	SyncedAt  time.Time
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	RoutingKey    string
	EventType     string
	Payload       []byte
	TraceID       string
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LockedBy      string
	LockedUntil   *time.Time
	LastError     string
	CreatedAt     time.Time
	RelayedAt     *time.Time
}
