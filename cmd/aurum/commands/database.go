package commands

import (
	"time"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/store"
)

// ConfigPath, when set by --config, replaces the am.toml cascade
var ConfigPath string

// Exit codes
const (
	ExitError       = 1 // command failed
	ExitFatalConfig = 2 // configuration or store unusable, cycle aborted
)

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	if errors.Is(err, errors.ErrFatalConfig) {
		return ExitFatalConfig
	}
	return ExitError
}

// loadConfig loads and validates the engine configuration
func loadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigPath != "" {
		cfg, err = am.LoadFromFile(ConfigPath)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// InitLogging configures the global logger from flags and configuration.
// Verbosity flags win over log.level; --log-json wins over log.json when set.
func InitLogging(verbosity int, jsonLogs, jsonSet bool) error {
	level := logger.VerbosityToLevel(verbosity)
	useJSON := jsonLogs

	if cfg, err := loadConfig(); err == nil {
		if verbosity == logger.VerbosityUser {
			level = logger.ParseLevel(cfg.Log.Level)
		}
		if !jsonSet {
			useJSON = cfg.Log.JSON
		}
	}

	if err := logger.Initialize(useJSON, level); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	return nil
}

// storeDSN bounds a SQLite lock wait by the configured timeouts
func storeDSN(cfg *am.Config) string {
	return db.WithBusyTimeout(cfg.Database.Driver, cfg.Database.DSN, cfg.BusyTimeout())
}

// openStore opens and migrates the configured store
func openStore(cfg *am.Config) (*store.Store, error) {
	conn, err := db.OpenWithMigrations(cfg.Database.Driver, storeDSN(cfg), logger.Logger.Named("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s store", cfg.Database.Driver)
	}
	return store.NewStore(conn, store.WithTimeout(cfg.StoreTimeout())), nil
}

// today is the current civil date in the engine timezone
func today(cfg *am.Config) (time.Time, error) {
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	return clock.Today(clock.System{}, loc), nil
}
