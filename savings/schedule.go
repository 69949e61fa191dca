// Package savings derives the month-by-month payment state of a subscription.
package savings

import (
	"iter"
	"time"
)

// Slot is one month of a plan's schedule
type Slot struct {
	Month int       `json:"month"` // 1-indexed month_number
	Due   time.Time `json:"due"`   // first calendar day of the month
}

// State is a slot's classification
type State string

const (
	StatePaid    State = "paid"
	StateCurrent State = "current"
	StateMissed  State = "missed"
)

// BuildSchedule returns the plan's month slots 1..totalMonths. Slot i is due
// on the first day of the start month plus i-1 months. The sequence is lazy
// and can be ranged over any number of times.
func BuildSchedule(startDate time.Time, totalMonths int) iter.Seq[Slot] {
	first := time.Date(startDate.Year(), startDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	return func(yield func(Slot) bool) {
		for i := 1; i <= totalMonths; i++ {
			if !yield(Slot{Month: i, Due: first.AddDate(0, i-1, 0)}) {
				return
			}
		}
	}
}

// ElapsedIndex returns the 1-indexed month of the schedule that now falls in.
// It is zero or negative before the start month.
func ElapsedIndex(startDate, now time.Time) int {
	return (now.Year()-startDate.Year())*12 + int(now.Month()-startDate.Month()) + 1
}

// Classify returns paid when a completed monthly payment exists for the
// slot's month, current when the slot is the elapsed month, else missed.
func Classify(slot Slot, paidMonths map[int]bool, elapsed int) State {
	switch {
	case paidMonths[slot.Month]:
		return StatePaid
	case slot.Month == elapsed:
		return StateCurrent
	default:
		return StateMissed
	}
}

// Visible filters schedule to the slots a subscriber may see: months up to
// the elapsed one, plus any later month already paid in advance.
func Visible(schedule iter.Seq[Slot], paidMonths map[int]bool, elapsed int) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for slot := range schedule {
			if slot.Month > elapsed && !paidMonths[slot.Month] {
				continue
			}
			if !yield(slot) {
				return
			}
		}
	}
}
