// Package am holds the aurum engine configuration ("am" as in "I am configured as").
//
// Values are layered: built-in defaults < ~/.aurum/am.toml < project am.toml
// (found by walking up from the working directory) < AURUM_* environment variables.
package am

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the engine configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Engine   EngineConfig   `mapstructure:"engine" toml:"engine"`
	Bonus    BonusConfig    `mapstructure:"bonus" toml:"bonus"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// DatabaseConfig selects the shared store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite3 or postgres
	DSN    string `mapstructure:"dsn" toml:"dsn"`       // file path for sqlite3, connection URL for postgres
}

// EngineConfig configures one worker process
type EngineConfig struct {
	WorkerID                  string  `mapstructure:"worker_id" toml:"worker_id"`                                     // empty = hostname plus random suffix
	BatchLimit                int     `mapstructure:"batch_limit" toml:"batch_limit"`                                 // due jobs claimed per cycle (default: 50)
	StoreTimeoutSeconds       int     `mapstructure:"store_timeout_seconds" toml:"store_timeout_seconds"`             // per store call
	TransactionTimeoutSeconds int     `mapstructure:"transaction_timeout_seconds" toml:"transaction_timeout_seconds"` // per payout transaction
	Timezone                  string  `mapstructure:"timezone" toml:"timezone"`                                       // IANA zone that defines "today"
	Schedule                  string  `mapstructure:"schedule" toml:"schedule"`                                       // cron spec for `aurum pulse start`
	JobsPerSecond             float64 `mapstructure:"jobs_per_second" toml:"jobs_per_second"`                         // per-worker throttle, 0 = unthrottled
}

// BonusConfig configures completion bonus allocation
type BonusConfig struct {
	RateSource          string `mapstructure:"rate_source" toml:"rate_source"`                       // store, fixed or http
	FixedRate           string `mapstructure:"fixed_rate" toml:"fixed_rate"`                         // price per gram when rate_source = fixed
	RateURL             string `mapstructure:"rate_url" toml:"rate_url"`                             // JSON price feed when rate_source = http
	RateURLAllowPrivate bool   `mapstructure:"rate_url_allow_private" toml:"rate_url_allow_private"` // permit feeds on loopback or private networks
	SweepLimit          int    `mapstructure:"sweep_limit" toml:"sweep_limit"`                       // subscriptions inspected per sweep
}

// LogConfig configures the global zap logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`
	Level string `mapstructure:"level" toml:"level"`
}

// Rate source values
const (
	RateSourceStore = "store"
	RateSourceFixed = "fixed"
	RateSourceHTTP  = "http"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// StoreTimeout returns the per-call store timeout
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Engine.StoreTimeoutSeconds) * time.Second
}

// TransactionTimeout returns the payout transaction timeout
func (c *Config) TransactionTimeout() time.Duration {
	return time.Duration(c.Engine.TransactionTimeoutSeconds) * time.Second
}

// BusyTimeout is how long a SQLite connection may wait on a locked store:
// the shorter of the store call and payout transaction timeouts.
func (c *Config) BusyTimeout() time.Duration {
	store, tx := c.StoreTimeout(), c.TransactionTimeout()
	switch {
	case store <= 0:
		return tx
	case tx <= 0 || store < tx:
		return store
	default:
		return tx
	}
}

// Location resolves engine.timezone. Empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Engine.Timezone)
}

// FixedRate parses bonus.fixed_rate
func (c *Config) FixedRate() (decimal.Decimal, error) {
	if c.Bonus.FixedRate == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(c.Bonus.FixedRate)
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: {Driver: %s}, Engine: {WorkerID: %q, BatchLimit: %d, Timezone: %s}, Bonus: {RateSource: %s}}",
		c.Database.Driver, c.Engine.WorkerID, c.Engine.BatchLimit, c.Engine.Timezone, c.Bonus.RateSource)
}
