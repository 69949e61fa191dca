// Package clock supplies wall time to the engine.
//
// "Today" is a civil date in the engine's configured time zone, represented
// as midnight UTC of that date so it compares and formats without zone drift.
package clock

import (
	"sync"
	"time"
)

// DateLayout is the storage format of civil dates
const DateLayout = "2006-01-02"

// Clock reports the current instant
type Clock interface {
	Now() time.Time
}

// System implements Clock using wall-clock UTC time.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for tests.
// Thread-safe: all methods are safe for concurrent use.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed returns a clock stopped at t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// Now returns the stopped instant
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set moves the clock to t
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}

// Advance moves the clock forward by d
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Today returns the civil date of c's current instant in loc.
// A nil loc means UTC.
func Today(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(c.Now().In(loc))
}

// DateOf truncates t to its civil date, keeping t's own calendar fields
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD civil date
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// MustDate parses a YYYY-MM-DD civil date and panics on failure.
// Intended for literals in tests and fixtures.
func MustDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}
