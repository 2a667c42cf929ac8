package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders to SQLite's ?N form.
func rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?$1")
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlDBTX struct {
	q sqlQuerier
}

func (d sqlDBTX) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.q.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, translateSQLiteError(err)
	}

	return res.RowsAffected()
}

func (d sqlDBTX) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.q.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, translateSQLiteError(err)
	}

	return sqlRows{rows: rows}, nil
}

func (d sqlDBTX) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{row: d.q.QueryRowContext(ctx, rebind(query), args...)}
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	return translateSQLiteError(r.row.Scan(dest...))
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return translateSQLiteError(r.rows.Err()) }
func (r sqlRows) Close()                 { _ = r.rows.Close() }

// SQLite is a Pool backed by the pure Go modernc driver.
type SQLite struct {
	sqlDBTX
	db *sql.DB
}

// NewSQLite opens dsn, e.g. "file:/var/lib/app.db?_pragma=busy_timeout(5000)&_txlock=immediate".
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// every connection to :memory: is a separate database
	if strings.Contains(dsn, ":memory:") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &SQLite{sqlDBTX: sqlDBTX{q: conn}, db: conn}, nil
}

// Begin starts a transaction.
func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translateSQLiteError(err)
	}

	return &sqlTx{sqlDBTX: sqlDBTX{q: tx}, tx: tx}, nil
}

// Ping verifies the connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns "sqlite".
func (*SQLite) Driver() string {
	return "sqlite"
}

// Close closes the database.
func (s *SQLite) Close() {
	_ = s.db.Close()
}

type sqlTx struct {
	sqlDBTX
	tx *sql.Tx
}

func (t *sqlTx) Commit(context.Context) error {
	return translateSQLiteError(t.tx.Commit())
}

func (t *sqlTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNoRows, err)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
	}

	return err
}
