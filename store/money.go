package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/aurum/internal/clock"
)

// MoneyScale is the number of decimal places money columns keep
const MoneyScale = 2

// TimestampLayout is the storage format of timestamps. Fixed width in UTC,
// so lexical order is chronological.
const TimestampLayout = time.RFC3339

// ToMinor converts an amount to integer minor units, rounding half away from zero
func ToMinor(d decimal.Decimal) int64 {
	return d.Round(MoneyScale).Shift(MoneyScale).IntPart()
}

// FromMinor converts integer minor units to an amount
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MoneyScale)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

func formatDate(t time.Time) string {
	return t.Format(clock.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	return clock.ParseDate(s)
}
