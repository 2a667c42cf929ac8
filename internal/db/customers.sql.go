package db

import (
	"context"
	"time"
)

const upsertCustomer = `
INSERT INTO customers (id, username, email, created_at, synced_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET username = excluded.username, email = excluded.email, synced_at = excluded.synced_at`

type UpsertCustomerParams struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
	SyncedAt  time.Time
}

func (q *Queries) UpsertCustomer(ctx context.Context, arg *UpsertCustomerParams) error {
	_, err := q.db.Exec(ctx, upsertCustomer, arg.ID, arg.Username, arg.Email, arg.CreatedAt, arg.SyncedAt)
	return err
}

const getCustomer = `SELECT id, username, email, created_at, synced_at FROM customers WHERE id = $1`

func (q *Queries) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := q.db.QueryRow(ctx, getCustomer, id).Scan(&c.ID, &c.Username, &c.Email, &c.CreatedAt, &c.SyncedAt)

	return c, err
}
