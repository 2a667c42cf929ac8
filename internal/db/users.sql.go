package db

import (
	"context"
	"time"
)

const userColumns = `id, username, email, password_hash, order_count, created_at, updated_at`

func scanUser(row Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.OrderCount, &u.CreatedAt, &u.UpdatedAt)

	return u, err
}

const createUser = `
INSERT INTO users (username, email, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
RETURNING ` + userColumns

type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

func (q *Queries) CreateUser(ctx context.Context, arg *CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, createUser, arg.Username, arg.Email, arg.PasswordHash, arg.CreatedAt))
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUser, id))
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByEmail, email))
}

const listUsers = `SELECT ` + userColumns + ` FROM users ORDER BY id`

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.Query(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}

	return items, rows.Err()
}

const incrementUserOrderCount = `
UPDATE users SET order_count = order_count + 1, updated_at = $2
WHERE id = $1`

func (q *Queries) IncrementUserOrderCount(ctx context.Context, id int64, updatedAt time.Time) (int64, error) {
	return q.db.Exec(ctx, incrementUserOrderCount, id, updatedAt)
}
