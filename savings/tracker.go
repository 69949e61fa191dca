package savings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/store"
)

// Reader is the read side of the store the tracker needs
type Reader interface {
	Subscription(ctx context.Context, id string) (*store.Subscription, error)
	Plan(ctx context.Context, id string) (*store.Plan, error)
	PaymentsForSubscription(ctx context.Context, subscriptionID string) ([]store.Payment, error)
}

// Row is one visible month of a statement
type Row struct {
	Slot
	State   State          `json:"state"`
	Payment *store.Payment `json:"payment,omitempty"`
}

// Statement is a subscription's payment position as of a date
type Statement struct {
	SubscriptionID string         `json:"subscription_id"`
	UserID         string         `json:"user_id"`
	PlanID         string         `json:"plan_id"`
	TotalMonths    int            `json:"total_months"`
	AsOf           time.Time      `json:"as_of"`
	Elapsed        int            `json:"elapsed"`
	CurrentMonth   int            `json:"current_month,omitempty"` // 0 when the elapsed month is paid or outside the plan
	Rows           []Row          `json:"rows"`
	Paid           int            `json:"paid"`
	Missed         int            `json:"missed"`
	Complete       bool           `json:"complete"`
	Bonus          *store.Payment `json:"bonus,omitempty"`
}

// Tracker builds statements from payment history
type Tracker struct {
	reader Reader
	clock  clock.Clock
	loc    *time.Location
	logger *zap.SugaredLogger
}

// NewTracker creates a tracker. "Today" is the clock's date in loc.
func NewTracker(reader Reader, c clock.Clock, loc *time.Location, logger *zap.SugaredLogger) *Tracker {
	if c == nil {
		c = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tracker{reader: reader, clock: c, loc: loc, logger: logger.Named("savings")}
}

// PaidMonths returns the month numbers covered by completed monthly payments
func PaidMonths(payments []store.Payment) map[int]bool {
	paid := make(map[int]bool)
	for _, p := range payments {
		if p.Type == store.PaymentMonthly && p.Status == store.PaymentCompleted {
			paid[p.MonthNumber] = true
		}
	}
	return paid
}

// Statement classifies every visible month of a subscription
func (t *Tracker) Statement(ctx context.Context, subscriptionID string) (*Statement, error) {
	sub, err := t.reader.Subscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := t.reader.Plan(ctx, sub.PlanID)
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Subscription ID: %s", sub.ID))
	}
	payments, err := t.reader.PaymentsForSubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	today := clock.Today(t.clock, t.loc)
	elapsed := ElapsedIndex(sub.StartDate, today)
	paid := PaidMonths(payments)

	byMonth := make(map[int]*store.Payment)
	var bonus *store.Payment
	for i := range payments {
		p := &payments[i]
		switch {
		case p.Type == store.PaymentBonus:
			bonus = p
		case p.Status == store.PaymentCompleted:
			byMonth[p.MonthNumber] = p
		}
	}

	st := &Statement{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         plan.ID,
		TotalMonths:    plan.TotalMonths,
		AsOf:           today,
		Elapsed:        elapsed,
		Rows:           []Row{},
		Bonus:          bonus,
	}

	schedule := BuildSchedule(sub.StartDate, plan.TotalMonths)
	for slot := range Visible(schedule, paid, elapsed) {
		row := Row{Slot: slot, State: Classify(slot, paid, elapsed), Payment: byMonth[slot.Month]}
		switch row.State {
		case StatePaid:
			st.Paid++
		case StateCurrent:
			st.CurrentMonth = slot.Month
		case StateMissed:
			st.Missed++
		}
		st.Rows = append(st.Rows, row)
	}
	st.Complete = st.Paid >= plan.TotalMonths

	t.logger.Debugw("Built savings statement",
		logger.FieldSubscriptionID, sub.ID,
		"elapsed", elapsed,
		"paid", st.Paid,
		"missed", st.Missed)
	return st, nil
}
