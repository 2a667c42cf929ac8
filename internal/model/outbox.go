package model

import "time"

// OutboxStatus is the relay state of an outbox entry.
type OutboxStatus string

const (
	// OutboxStatusPending entries wait for the relay.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusRelayed entries were confirmed by the broker.
	OutboxStatusRelayed OutboxStatus = "relayed"
	// OutboxStatusFailed entries exhausted their attempts and need an operator.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxEvent represents an outbox event for reliable message delivery.
type OutboxEvent struct {
	ID            int64        `json:"id"`
	EventID       string       `json:"event_id"`
	Topic         string       `json:"topic"`
	RoutingKey    string       `json:"routing_key"`
	EventType     string       `json:"event_type"`
	Payload       []byte       `json:"payload"`
	TraceID       string       `json:"trace_id"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	RelayedAt     *time.Time   `json:"relayed_at"`
}

// CreateOutboxEventParams represents parameters for creating a new outbox event.
type CreateOutboxEventParams struct {
	EventID    string
	Topic      string
	RoutingKey string
	EventType  string
	Payload    []byte
	TraceID    string
	CreatedAt  time.Time
}

// ClaimOutboxEventsParams selects pending entries for one relay worker.
type ClaimOutboxEventsParams struct {
	Worker     string
	Now        time.Time
	LeaseUntil time.Time
	Limit      int
}
