package am

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/httpclient"
)

// MaxBatchLimit bounds a single cycle's claim batch
const MaxBatchLimit = 1000

func fatalf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errors.ErrFatalConfig)
}

// Validate checks that the configuration is usable.
// Every failure is marked ErrFatalConfig: a worker must not start a cycle
// with a configuration it cannot honour.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fatalf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.WithHint(
			fatalf("database.dsn is empty"),
			"set database.dsn in am.toml or export AURUM_DATABASE_DSN",
		)
	}

	// Batch limit: 0 = use default, negative = invalid
	if c.Engine.BatchLimit < 0 {
		return fatalf("engine.batch_limit must be >= 0, got %d", c.Engine.BatchLimit)
	}
	if c.Engine.BatchLimit > MaxBatchLimit {
		return fatalf("engine.batch_limit must be <= %d, got %d", MaxBatchLimit, c.Engine.BatchLimit)
	}

	// Timeouts are mandatory: every store call and payout transaction carries one
	if c.Engine.StoreTimeoutSeconds <= 0 {
		return fatalf("engine.store_timeout_seconds must be > 0, got %d", c.Engine.StoreTimeoutSeconds)
	}
	if c.Engine.TransactionTimeoutSeconds <= 0 {
		return fatalf("engine.transaction_timeout_seconds must be > 0, got %d", c.Engine.TransactionTimeoutSeconds)
	}

	if c.Engine.JobsPerSecond < 0 {
		return fatalf("engine.jobs_per_second must be >= 0, got %g", c.Engine.JobsPerSecond)
	}

	if c.Engine.Timezone != "" {
		if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
			return errors.Mark(errors.Wrapf(err, "engine.timezone %q", c.Engine.Timezone), errors.ErrFatalConfig)
		}
	}

	if c.Engine.Schedule != "" {
		if _, err := cron.ParseStandard(c.Engine.Schedule); err != nil {
			return errors.Mark(errors.Wrapf(err, "engine.schedule %q", c.Engine.Schedule), errors.ErrFatalConfig)
		}
	}

	switch c.Bonus.RateSource {
	case RateSourceStore:
	case RateSourceFixed:
		rate, err := c.FixedRate()
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "bonus.fixed_rate %q", c.Bonus.FixedRate), errors.ErrFatalConfig)
		}
		if !rate.IsPositive() {
			return fatalf("bonus.fixed_rate must be > 0 when bonus.rate_source = fixed, got %s", rate)
		}
	case RateSourceHTTP:
		if c.Bonus.RateURL == "" {
			return errors.WithHint(
				fatalf("bonus.rate_url is empty"),
				"bonus.rate_source = http needs the URL of a JSON feed returning {\"per_gram\": \"...\"}",
			)
		}
		client := httpclient.New(httpclient.Options{AllowPrivate: c.Bonus.RateURLAllowPrivate})
		if _, err := client.ValidateURL(c.Bonus.RateURL); err != nil {
			return errors.Mark(errors.Wrapf(err, "bonus.rate_url %q", c.Bonus.RateURL), errors.ErrFatalConfig)
		}
	default:
		return fatalf("bonus.rate_source must be %q, %q or %q, got %q", RateSourceStore, RateSourceFixed, RateSourceHTTP, c.Bonus.RateSource)
	}

	if c.Bonus.SweepLimit < 0 {
		return fatalf("bonus.sweep_limit must be >= 0, got %d", c.Bonus.SweepLimit)
	}

	return nil
}
