package model

import "time"

// Customer is the order-service's local copy of a user, fed by user-created events.
type Customer struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	SyncedAt  time.Time `json:"synced_at"`
}
