// Package bonus allocates the one-time completion bonus of a subscription.
//
// A subscription moves from not eligible, to eligible and unallocated once
// every monthly instalment is paid, to allocated. The last edge is guarded by
// a conflict-ignoring insert against a unique index, so concurrent allocators
// still produce at most one bonus payment.
package bonus

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/store"
)

// GoldScale is the number of decimal places gold grams are rounded to
const GoldScale = 4

// Reasons an allocation did not happen
const (
	ReasonAlreadyAllocated = "already allocated"
	ReasonNoBonusAmount    = "no bonus amount"
	ReasonIncomplete       = "incomplete"
)

// Allocation is the outcome of one Allocate call
type Allocation struct {
	SubscriptionID string         `json:"subscription_id"`
	UserID         string         `json:"user_id,omitempty"`
	Allocated      bool           `json:"allocated"`
	Reason         string         `json:"reason,omitempty"`
	Payment        *store.Payment `json:"payment,omitempty"`
}

// IsEligible reports whether a subscription may receive its bonus: all plan
// months paid, no bonus yet, and a positive bonus amount. reason explains a
// false result.
func IsEligible(sub *store.Subscription, plan *store.Plan, completedMonthly int, hasBonus bool) (ok bool, reason string) {
	switch {
	case hasBonus:
		return false, ReasonAlreadyAllocated
	case !sub.BonusAmount.IsPositive():
		return false, ReasonNoBonusAmount
	case completedMonthly < plan.TotalMonths:
		return false, fmt.Sprintf("%s: %d of %d monthly payments", ReasonIncomplete, completedMonthly, plan.TotalMonths)
	default:
		return true, ""
	}
}

// Allocator writes bonus payments
type Allocator struct {
	store     *store.Store
	rates     RateSource
	clock     clock.Clock
	txTimeout time.Duration
	logger    *zap.SugaredLogger
}

// NewAllocator creates an allocator
func NewAllocator(s *store.Store, rates RateSource, c clock.Clock, txTimeout time.Duration, logger *zap.SugaredLogger) *Allocator {
	if c == nil {
		c = clock.System{}
	}
	if txTimeout <= 0 {
		txTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Allocator{store: s, rates: rates, clock: c, txTimeout: txTimeout, logger: logger.Named("bonus")}
}

// Check evaluates eligibility without writing anything
func (a *Allocator) Check(ctx context.Context, subscriptionID string) (*Allocation, error) {
	sub, ok, reason, err := a.eligibility(ctx, a.store, subscriptionID)
	if err != nil {
		return nil, err
	}
	return &Allocation{SubscriptionID: sub.ID, UserID: sub.UserID, Allocated: false, Reason: reasonOrEligible(ok, reason)}, nil
}

func reasonOrEligible(ok bool, reason string) string {
	if ok {
		return "eligible"
	}
	return reason
}

// reader is the read side shared by *store.Store and *store.Tx
type reader interface {
	Subscription(ctx context.Context, id string) (*store.Subscription, error)
	Plan(ctx context.Context, id string) (*store.Plan, error)
	CompletedMonthlyCount(ctx context.Context, subscriptionID string) (int, error)
	BonusPayment(ctx context.Context, subscriptionID string) (*store.Payment, error)
}

func (a *Allocator) eligibility(ctx context.Context, r reader, subscriptionID string) (*store.Subscription, bool, string, error) {
	sub, err := r.Subscription(ctx, subscriptionID)
	if err != nil {
		return nil, false, "", err
	}
	plan, err := r.Plan(ctx, sub.PlanID)
	if err != nil {
		return nil, false, "", errors.WithDetail(err, fmt.Sprintf("Subscription ID: %s", sub.ID))
	}
	completed, err := r.CompletedMonthlyCount(ctx, sub.ID)
	if err != nil {
		return nil, false, "", err
	}
	existing, err := r.BonusPayment(ctx, sub.ID)
	if err != nil {
		return nil, false, "", err
	}

	ok, reason := IsEligible(sub, plan, completed, existing != nil)
	return sub, ok, reason, nil
}

// Allocate writes the subscription's bonus payment if it is eligible and
// credits the bonus to the subscriber's savings balance, in one transaction.
// Calling it again, concurrently or later, never writes a second bonus.
func (a *Allocator) Allocate(ctx context.Context, subscriptionID string) (*Allocation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.txTimeout)
	defer cancel()

	var alloc *Allocation
	err := a.store.InTx(ctx, func(tx *store.Tx) error {
		sub, ok, reason, err := a.eligibility(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		alloc = &Allocation{SubscriptionID: sub.ID, UserID: sub.UserID}
		if !ok {
			alloc.Reason = reason
			return nil
		}

		rate, err := a.rates.Rate(ctx, a.clock.Now())
		if err != nil {
			return err
		}

		payment := &store.Payment{
			SubscriptionID: sub.ID,
			Amount:         sub.BonusAmount,
			GoldGrams:      decimal.NewNullDecimal(sub.BonusAmount.Div(rate).Round(GoldScale)),
		}
		inserted, err := tx.InsertBonusIfAbsent(ctx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			alloc.Reason = ReasonAlreadyAllocated
			return nil
		}

		if err := tx.CreditSavings(ctx, sub.UserID, payment.Amount); err != nil {
			return err
		}
		alloc.Allocated = true
		alloc.Payment = payment
		return nil
	})
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Subscription ID: %s", subscriptionID))
	}

	if alloc.Allocated {
		a.logger.Infow("Allocated completion bonus",
			logger.FieldSubscriptionID, alloc.SubscriptionID,
			logger.FieldUserID, alloc.UserID,
			logger.FieldPaymentID, alloc.Payment.ID,
			logger.FieldAmount, alloc.Payment.Amount.StringFixed(store.MoneyScale),
			"gold_grams", alloc.Payment.GoldGrams.Decimal.StringFixed(GoldScale))
	} else {
		a.logger.Debugw("Bonus not allocated",
			logger.FieldSubscriptionID, alloc.SubscriptionID,
			"reason", alloc.Reason)
	}
	return alloc, nil
}

// SweepError records a subscription the sweep could not allocate
type SweepError struct {
	SubscriptionID string      `json:"subscription_id"`
	Kind           errors.Kind `json:"kind"`
	Message        string      `json:"message"`
}

// SweepReport summarises a sweep
type SweepReport struct {
	Checked   int          `json:"checked"`
	Allocated int          `json:"allocated"`
	Skipped   int          `json:"skipped"`
	Errors    []SweepError `json:"errors"`
}

// sweepPageSize is how many candidates a sweep reads per query
const sweepPageSize = 100

// Sweep allocates bonuses for active subscriptions that do not have one yet,
// checking at most limit subscriptions (zero means no limit). A failing
// subscription is reported and the sweep moves on.
func (a *Allocator) Sweep(ctx context.Context, limit int) (*SweepReport, error) {
	report := &SweepReport{Errors: []SweepError{}}
	afterID := ""

	for limit <= 0 || report.Checked < limit {
		pageSize := sweepPageSize
		if limit > 0 {
			pageSize = min(pageSize, limit-report.Checked)
		}

		candidates, err := a.store.BonusCandidates(ctx, afterID, pageSize)
		if err != nil {
			return report, errors.Wrap(err, "list bonus candidates")
		}
		if len(candidates) == 0 {
			break
		}

		for _, sub := range candidates {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			afterID = sub.ID
			report.Checked++

			alloc, err := a.Allocate(ctx, sub.ID)
			switch {
			case err != nil:
				a.logger.Warnw("Bonus allocation failed",
					logger.FieldSubscriptionID, sub.ID,
					logger.FieldErrorKind, errors.KindOf(err),
					logger.FieldError, err)
				report.Errors = append(report.Errors, SweepError{
					SubscriptionID: sub.ID,
					Kind:           errors.KindOf(err),
					Message:        err.Error(),
				})
			case alloc.Allocated:
				report.Allocated++
			default:
				report.Skipped++
			}
		}
	}

	a.logger.Infow("Bonus sweep finished",
		"checked", report.Checked,
		"allocated", report.Allocated,
		logger.FieldSkipped, report.Skipped,
		logger.FieldFailed, len(report.Errors))
	return report, nil
}
