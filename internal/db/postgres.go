package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxDBTX struct {
	q pgxQuerier
}

func (d pgxDBTX) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := d.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, translatePgError(err)
	}

	return tag.RowsAffected(), nil
}

func (d pgxDBTX) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.q.Query(ctx, query, args...)
	if err != nil {
		return nil, translatePgError(err)
	}

	return rows, nil
}

func (d pgxDBTX) QueryRow(ctx context.Context, query string, args ...any) Row {
	return pgxRow{row: d.q.QueryRow(ctx, query, args...)}
}

type pgxRow struct {
	row pgx.Row
}

func (r pgxRow) Scan(dest ...any) error {
	return translatePgError(r.row.Scan(dest...))
}

// Postgres is a Pool backed by pgxpool.
type Postgres struct {
	pgxDBTX
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &Postgres{pgxDBTX: pgxDBTX{q: pool}, pool: pool}, nil
}

// Begin starts a transaction.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, translatePgError(err)
	}

	return &pgxTx{pgxDBTX: pgxDBTX{q: tx}, tx: tx}, nil
}

// Ping verifies the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Driver returns "postgres".
func (*Postgres) Driver() string {
	return "postgres"
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

type pgxTx struct {
	pgxDBTX
	tx pgx.Tx
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return translatePgError(t.tx.Commit(ctx))
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return err
}

func translatePgError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNoRows, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}

	return err
}
