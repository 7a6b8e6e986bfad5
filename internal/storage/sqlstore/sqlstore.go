// Package sqlstore provides a database/sql implementation of storage.Store
// for SQLite (embedded, single instance) and PostgreSQL (multi-instance).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kiumaa/kixikila/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// maxTxAttempts bounds retries of serialization failures.
const maxTxAttempts = 3

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the differences between the supported databases.
type dialect struct {
	name string

	// serial is the column definition of the append sequence.
	serial string

	txOptions *sql.TxOptions

	// lockSQL takes a transaction-scoped lock on a string key. Empty when
	// the backend already serialises writers.
	lockSQL string

	positional bool
}

var (
	sqliteDialect = dialect{
		name:   "sqlite",
		serial: "INTEGER PRIMARY KEY AUTOINCREMENT",
	}
	postgresDialect = dialect{
		name:       "postgres",
		serial:     "BIGSERIAL PRIMARY KEY",
		txOptions:  &sql.TxOptions{Isolation: sql.LevelSerializable},
		lockSQL:    "SELECT pg_advisory_xact_lock(hashtext(?))",
		positional: true,
	}
)

// rebind rewrites ? placeholders into the dialect's form.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func (d dialect) isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// Store implements storage.Store on database/sql.
type Store struct {
	db      *sql.DB
	q       querier
	dialect dialect
	inTx    bool
}

// NewSQLite opens (or creates) the SQLite database at dbPath.
// It creates the parent directories and runs migrations automatically.
func NewSQLite(dbPath string) (*Store, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer connection: every transaction is serialised, which makes
	// check-then-append sequences atomic.
	db.SetMaxOpenConns(1)

	return open(db, sqliteDialect)
}

// NewPostgres connects to the PostgreSQL database at dsn.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return open(db, postgresDialect)
}

func open(db *sql.DB, d dialect) (*Store, error) {
	if err := runMigrations(db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db, q: db, dialect: d}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the dialect name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// InTx runs fn in a transaction, retrying serialization failures.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !s.dialect.isRetryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx storage.Store) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.txOptions)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Lock takes a transaction-scoped advisory lock on key.
func (s *Store) Lock(ctx context.Context, key string) error {
	if s.dialect.lockSQL == "" {
		return nil
	}
	if !s.inTx {
		return fmt.Errorf("lock %q requires a transaction", key)
	}
	if _, err := s.q.ExecContext(ctx, s.dialect.rebind(s.dialect.lockSQL), key); err != nil {
		return fmt.Errorf("failed to lock %q: %w", key, err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// applied reports whether an UPDATE touched at least one row.
func applied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
