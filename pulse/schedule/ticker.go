package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/logger"
)

// CycleFunc runs one commission cycle
type CycleFunc func(ctx context.Context) error

// Ticker triggers cycles on a cron schedule for `aurum pulse start`.
// Cycles never overlap: a tick that comes due while a cycle is still
// running is skipped and the next one is computed from the time the cycle
// ended.
type Ticker struct {
	schedule        cron.Schedule
	run             CycleFunc
	runOnStart      bool
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	logger          *zap.SugaredLogger
	mu              sync.Mutex
	lastTickAt      time.Time
	nextRunAt       time.Time
	ticksSinceStart int64
	failures        int64
}

// TickerConfig contains configuration for the Pulse ticker
type TickerConfig struct {
	Spec       string        // standard five-field cron spec or descriptor ("@hourly", "@every 5m")
	Schedule   cron.Schedule // overrides Spec when set
	RunOnStart bool          // run one cycle immediately on Start
}

// ParseSchedule parses a standard cron spec. A bad spec is a fatal
// configuration error.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.WithHint(
			errors.AsFatal(err, "invalid engine.schedule "+spec),
			"use a five-field cron spec such as \"*/5 * * * *\" or a descriptor such as \"@every 5m\"",
		)
	}
	return sched, nil
}

// NewTicker creates a new Pulse ticker
func NewTicker(cfg TickerConfig, run CycleFunc, logger *zap.SugaredLogger) (*Ticker, error) {
	return NewTickerWithContext(context.Background(), cfg, run, logger)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, cfg TickerConfig, run CycleFunc, log *zap.SugaredLogger) (*Ticker, error) {
	sched := cfg.Schedule
	if sched == nil {
		var err error
		if sched, err = ParseSchedule(cfg.Spec); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		schedule:   sched,
		run:        run,
		runOnStart: cfg.RunOnStart,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     log.Named("pulse.ticker"),
	}, nil
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.loop()
	t.logger.Infow("Pulse ticker started", "next_run_at", t.Next().Format(time.RFC3339))
}

// Stop gracefully stops the ticker, waiting for a running cycle to return
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Pulse ticker stopped", "ticks", t.ticks())
}

// Done is closed when the ticker's context ends
func (t *Ticker) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Next returns when the next cycle is due
func (t *Ticker) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nextRunAt.IsZero() {
		t.nextRunAt = t.schedule.Next(time.Now())
	}
	return t.nextRunAt
}

func (t *Ticker) ticks() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticksSinceStart
}

// loop is the main ticker loop
func (t *Ticker) loop() {
	defer t.wg.Done()

	if t.runOnStart {
		t.tick(time.Now())
	}

	for {
		next := t.schedule.Next(time.Now())
		t.mu.Lock()
		t.nextRunAt = next
		t.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case tickTime := <-timer.C:
			t.tick(tickTime)
		}
	}
}

func (t *Ticker) tick(tickTime time.Time) {
	t.mu.Lock()
	t.lastTickAt = tickTime
	t.ticksSinceStart++
	tick := t.ticksSinceStart
	t.mu.Unlock()

	err := t.run(t.ctx)
	if err == nil {
		return
	}
	if t.ctx.Err() != nil {
		return
	}

	t.mu.Lock()
	t.failures++
	t.mu.Unlock()

	// Keep ticking; the next cycle may find the store reachable again
	t.logger.Warnw("Pulse cycle error",
		logger.FieldError, err,
		logger.FieldErrorKind, errors.KindOf(err),
		"tick", tick)
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"next_run_at":       t.nextRunAt,
		"ticks_since_start": t.ticksSinceStart,
		"failures":          t.failures,
	}
}
