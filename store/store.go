// Package store is the engine's adapter over the shared SQL store.
//
// All mutation of shared state goes through conditional updates or InTx;
// the store holds no in-process locks. Queries use $N placeholders, which
// both lib/pq and mattn/go-sqlite3 accept.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds the reads shared by Store and Tx
type queries struct {
	q       querier
	clock   clock.Clock
	timeout time.Duration // per call; zero inside a transaction
}

func (c *queries) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *queries) now() string {
	return formatTime(c.clock.Now())
}

// Store handles persistence of commission jobs, payouts and bonus payments
type Store struct {
	queries
	db *sql.DB
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for timestamps
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithTimeout bounds every store call made outside a transaction
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// NewStore creates a store over an open database
func NewStore(sqlDB *sql.DB, opts ...Option) *Store {
	s := &Store{
		queries: queries{q: sqlDB, clock: clock.System{}},
		db:      sqlDB,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a store transaction. Reads see the transaction's own writes.
type Tx struct {
	queries
	tx *sql.Tx
}

// InTx runs fn inside one transaction. fn's error rolls everything back and
// is returned unchanged; a nil return commits. The transaction lives as long
// as ctx, so callers bound it with a deadline.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return db.Classify(err, "begin transaction")
	}

	tx := &Tx{
		queries: queries{q: sqlTx, clock: s.clock},
		tx:      sqlTx,
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.WithSecondaryError(err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return db.Classify(err, "commit transaction")
	}
	return nil
}

// rowsAffected reads RowsAffected, classifying a driver failure
func rowsAffected(res sql.Result, operation string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Classify(err, operation+": rows affected")
	}
	return n, nil
}
