package am

import (
	"github.com/spf13/viper"
)

// Default values
const (
	DefaultBatchLimit                = 50
	DefaultStoreTimeoutSeconds       = 5
	DefaultTransactionTimeoutSeconds = 30
	DefaultSchedule                  = "*/5 * * * *"
	DefaultSweepLimit                = 500
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "aurum.db")

	// Engine defaults
	v.SetDefault("engine.worker_id", "")
	v.SetDefault("engine.batch_limit", DefaultBatchLimit)
	v.SetDefault("engine.store_timeout_seconds", DefaultStoreTimeoutSeconds)
	v.SetDefault("engine.transaction_timeout_seconds", DefaultTransactionTimeoutSeconds)
	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.schedule", DefaultSchedule)
	v.SetDefault("engine.jobs_per_second", 0.0)

	// Bonus defaults
	v.SetDefault("bonus.rate_source", RateSourceStore)
	v.SetDefault("bonus.fixed_rate", "")
	v.SetDefault("bonus.rate_url", "")
	v.SetDefault("bonus.rate_url_allow_private", false)
	v.SetDefault("bonus.sweep_limit", DefaultSweepLimit)

	// Logging defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Store credentials; DATABASE_URL is what most hosting platforms inject
	v.BindEnv("database.dsn", "AURUM_DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("database.driver", "AURUM_DATABASE_DRIVER")

	// Worker identity is usually injected by the scheduler running the process
	v.BindEnv("engine.worker_id", "AURUM_ENGINE_WORKER_ID", "AURUM_WORKER_ID")
}

// Default returns the built-in configuration
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode
		panic(err)
	}
	return cfg
}
