package db

import (
	"context"
	"database/sql"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/aurum/errors"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLite connection settings. They travel in the DSN because PRAGMAs only
// apply to the connection that ran them and database/sql pools connections.
const (
	SQLiteBusyTimeoutMS = 5000
)

// PingTimeout bounds the startup reachability check
const PingTimeout = 5 * time.Second

var sqliteParams = map[string]string{
	"_txlock":       "immediate", // BEGIN IMMEDIATE: take the write lock up front
	"_busy_timeout": strconv.Itoa(SQLiteBusyTimeoutMS),
	"_journal_mode": "WAL",
	"_foreign_keys": "on",
}

// SQLiteDSN adds the engine's connection parameters to a SQLite DSN while
// keeping any the caller already set.
func SQLiteDSN(dsn string) string {
	base, rawQuery, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		params = url.Values{}
	}
	for k, v := range sqliteParams {
		if params.Get(k) == "" {
			params.Set(k, v)
		}
	}
	return base + "?" + params.Encode()
}

// WithBusyTimeout sets how long a SQLite connection waits on a locked store.
// go-sqlite3 does not bound that wait by the context passed to BeginTx or
// ExecContext, so callers size it to their own call and transaction
// timeouts. Other drivers, an empty DSN, and a DSN that already carries
// _busy_timeout are returned unchanged.
func WithBusyTimeout(driver, dsn string, d time.Duration) string {
	if driver != DriverSQLite || dsn == "" || d <= 0 {
		return dsn
	}
	base, rawQuery, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil || params.Get("_busy_timeout") != "" {
		return dsn
	}
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	params.Set("_busy_timeout", strconv.FormatInt(ms, 10))
	return base + "?" + params.Encode()
}

// Open opens the shared store and verifies it is reachable.
// An unknown driver or an unreachable store is a fatal configuration error.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(driver, dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.Mark(errors.New("database dsn is empty"), errors.ErrFatalConfig)
	}

	switch driver {
	case DriverSQLite:
		dsn = SQLiteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, errors.Mark(errors.Newf("unsupported database driver %q", driver), errors.ErrFatalConfig)
	}

	if logger != nil {
		logger.Debugw("Opening database", "driver", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.AsFatal(err, "failed to open database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WithHint(
			errors.AsFatal(err, "store unreachable"),
			"check database.dsn and that the store accepts connections",
		)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"driver", driver,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the store and applies pending migrations
func OpenWithMigrations(driver, dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(driver, dsn, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	return db, nil
}
