// Package commission pays multi-level referral commissions for a claimed job.
//
// A job is processed in a single store transaction: the triggering payment,
// its subscription and plan are loaded, the subscriber's upline is resolved,
// each paying level is credited and recorded in the ledger, and the job is
// completed under the claimant's ownership guard. Any failure rolls back all
// of it, so a job either pays every level exactly once or pays nothing.
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/referral"
	"github.com/teranos/aurum/store"
)

// DefaultTransactionTimeout bounds a payout transaction when none is configured
const DefaultTransactionTimeout = 30 * time.Second

// Result describes a completed payout
type Result struct {
	JobID        string              `json:"job_id"`
	PaymentID    string              `json:"payment_id"`
	SubscriberID string              `json:"subscriber_id"`
	Upline       []string            `json:"upline"`
	Entries      []store.LedgerEntry `json:"entries"`
	Total        decimal.Decimal     `json:"total"`
}

// Processor applies commission jobs
type Processor struct {
	store     *store.Store
	txTimeout time.Duration
	logger    *zap.SugaredLogger
}

// NewProcessor creates a processor. A non-positive txTimeout uses
// DefaultTransactionTimeout.
func NewProcessor(s *store.Store, txTimeout time.Duration, logger *zap.SugaredLogger) *Processor {
	if txTimeout <= 0 {
		txTimeout = DefaultTransactionTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Processor{store: s, txTimeout: txTimeout, logger: logger.Named("commission")}
}

// Process pays out a job claimed by job.LockedBy. The returned error keeps
// its taxonomy mark: ErrBusinessRule for bad data, ErrClaimConflict when the
// claim was lost or the job already paid, ErrTransientStore for
// infrastructure failures.
func (p *Processor) Process(ctx context.Context, job *store.Job) (*Result, error) {
	if job.LockedBy == "" {
		return nil, errors.Newf("job %s is not claimed", job.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.txTimeout)
	defer cancel()

	var result *Result
	err := p.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		result, err = p.apply(ctx, tx, job)
		return err
	})
	if err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return nil, err
	}

	p.logger.Infow("Commission job paid",
		logger.FieldJobID, job.ID,
		logger.FieldPaymentID, result.PaymentID,
		logger.FieldCount, len(result.Entries),
		logger.FieldAmount, result.Total.StringFixed(PayoutScale))
	return result, nil
}

func (p *Processor) apply(ctx context.Context, tx *store.Tx, job *store.Job) (*Result, error) {
	payload, err := job.Payload()
	if err != nil {
		return nil, err
	}

	payment, err := tx.Payment(ctx, payload.PaymentID)
	if err != nil {
		return nil, missingIsBusinessRule(err, "load triggering payment")
	}
	if payment.Status != store.PaymentCompleted {
		return nil, errors.BusinessRulef("payment %s is %s, not completed", payment.ID, payment.Status)
	}
	if payment.Type != store.PaymentMonthly {
		return nil, errors.BusinessRulef("payment %s is a %s payment, not monthly", payment.ID, payment.Type)
	}
	if payload.SubscriptionID != "" && payload.SubscriptionID != payment.SubscriptionID {
		return nil, errors.BusinessRulef("payment %s belongs to subscription %s, job names %s",
			payment.ID, payment.SubscriptionID, payload.SubscriptionID)
	}

	sub, err := tx.Subscription(ctx, payment.SubscriptionID)
	if err != nil {
		return nil, missingIsBusinessRule(err, "load subscription")
	}
	plan, err := tx.Plan(ctx, sub.PlanID)
	if err != nil {
		return nil, missingIsBusinessRule(err, "load plan")
	}
	table, err := DecodeTable(plan.Levels)
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Plan ID: %s", plan.ID))
	}

	result := &Result{
		JobID:        job.ID,
		PaymentID:    payment.ID,
		SubscriberID: sub.UserID,
		Upline:       []string{},
		Entries:      []store.LedgerEntry{},
		Total:        decimal.Zero,
	}

	if depth := table.Depth(); depth > 0 {
		result.Upline, err = referral.NewWalker(tx, p.logger).ResolveUpline(ctx, sub.UserID, depth)
		if err != nil {
			return nil, err
		}
	}

	for i, ancestor := range result.Upline {
		level := i + 1
		payout := table.Payout(level, payment.Amount)
		if payout.IsZero() {
			continue
		}

		if err := tx.CreditReferral(ctx, ancestor, payout); err != nil {
			return nil, err
		}
		entry := store.LedgerEntry{
			JobID:      job.ID,
			UserID:     ancestor,
			FromUserID: sub.UserID,
			Level:      level,
			Amount:     payout,
		}
		if err := tx.AppendLedger(ctx, &entry); err != nil {
			return nil, err
		}

		p.logger.Debugw("Credited referral commission",
			logger.FieldJobID, job.ID,
			logger.FieldUserID, ancestor,
			logger.FieldLevel, level,
			logger.FieldAmount, payout.StringFixed(PayoutScale))

		result.Entries = append(result.Entries, entry)
		result.Total = result.Total.Add(payout)
	}

	if err := tx.CompleteJob(ctx, job.ID, job.LockedBy); err != nil {
		return nil, err
	}
	return result, nil
}

// missingIsBusinessRule turns a missing referenced record into a business
// rule failure. Other errors pass through with their classification.
func missingIsBusinessRule(err error, operation string) error {
	if errors.IsNotFoundError(err) {
		return errors.AsBusinessRule(err, operation)
	}
	return errors.Wrap(err, operation)
}
