package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/teranos/aurum/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs during graceful shutdown when the database connection
// is closed before all goroutines have finished their work.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// This handles both:
// - Wrapped ErrDatabaseClosed errors from this package
// - Raw sql driver errors that contain "database is closed" in their message
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	// The sql package returns its own unexported error here
	return strings.Contains(err.Error(), "database is closed")
}

// IsTransient reports whether err is an infrastructure failure that leaves
// the data untouched: a busy or locked SQLite file, a dropped or refused
// Postgres connection, a serialization conflict, or a network error.
//
// Context deadlines and cancellations are not transient: a
// payout transaction that ran out of time counts against the job.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case pqErr.Code.Class() == "08": // connection exception
			return true
		case strings.HasPrefix(code, "57P"): // admin shutdown, crash shutdown, cannot connect now
			return true
		case code == "40001", code == "40P01": // serialization failure, deadlock detected
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports whether err is a unique or primary key conflict
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}

// Classify marks a raw store error as transient when IsTransient says so,
// leaving every other error wrapped but unmarked.
func Classify(err error, operation string) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return errors.AsTransient(err, operation)
	}
	return errors.Wrap(err, operation)
}
