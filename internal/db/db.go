// Package db is the storage boundary: a driver-neutral query interface with
// Postgres (pgx) and SQLite (modernc) implementations, the schema, and the
// typed queries used by the repositories.
//
// Queries are written with $N placeholders; the SQLite adapter rewrites them.
package db

import (
	"context"
	"errors"
)

var (
	// ErrNoRows is returned when a single-row query matches nothing.
	ErrNoRows = errors.New("no rows in result set")
	// ErrUniqueViolation is returned when a write breaks a unique constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...any) error
}

// Rows is the result of Query.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// DBTX is satisfied by both pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
}

// Tx is an open transaction.
type Tx interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool is a connection pool able to start transactions.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Driver() string
	Close()
}

type txContextKey struct{}

// NewContextWithTx returns a context carrying tx, so queries issued with it join the transaction.
func NewContextWithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(Tx)
	return tx, ok
}

// Queries runs the typed statements against a DBTX.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (*Queries) WithTx(tx Tx) *Queries {
	return &Queries{db: tx}
}

// Conn returns Queries bound to the transaction carried by ctx, or q itself.
func (q *Queries) Conn(ctx context.Context) *Queries {
	if tx, ok := TxFromContext(ctx); ok {
		return q.WithTx(tx)
	}

	return q
}
