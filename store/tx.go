package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
)

// CreditReferral adds amount to a user's referral and total balances,
// creating the balance row on first credit
func (t *Tx) CreditReferral(ctx context.Context, userID string, amount decimal.Decimal) error {
	return t.credit(ctx, userID, 0, ToMinor(amount))
}

// CreditSavings adds amount to a user's savings and total balances
func (t *Tx) CreditSavings(ctx context.Context, userID string, amount decimal.Decimal) error {
	return t.credit(ctx, userID, ToMinor(amount), 0)
}

func (t *Tx) credit(ctx context.Context, userID string, savingsMinor, referralMinor int64) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO balances
		(user_id, savings_minor, referral_minor, total_minor, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
		  savings_minor = balances.savings_minor + excluded.savings_minor,
		  referral_minor = balances.referral_minor + excluded.referral_minor,
		  total_minor = balances.total_minor + excluded.total_minor,
		  updated_at = excluded.updated_at`,
		userID, savingsMinor, referralMinor, savingsMinor+referralMinor, t.now())
	if err != nil {
		err = db.Classify(err, "failed to credit balance")
		return errors.WithDetail(err, fmt.Sprintf("User ID: %s", userID))
	}
	return nil
}

// AppendLedger inserts one payout record. A second entry for the same
// (job, level) means the job was already paid and is reported as a claim
// conflict.
func (t *Tx) AppendLedger(ctx context.Context, entry *LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = LedgerStatusCredited
	}
	createdAt := t.clock.Now()
	entry.CreatedAt = createdAt

	_, err := t.q.ExecContext(ctx, `INSERT INTO ledger_entries
		(id, job_id, user_id, from_user_id, level, amount_minor, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.JobID, entry.UserID, entry.FromUserID, entry.Level,
		ToMinor(entry.Amount), entry.Status, formatTime(createdAt))
	if db.IsUniqueViolation(err) {
		return errors.Wrapf(errors.ErrClaimConflict, "job %s level %d already credited", entry.JobID, entry.Level)
	}
	if err != nil {
		err = db.Classify(err, "failed to append ledger entry")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", entry.JobID))
		return errors.WithDetail(err, fmt.Sprintf("Level: %d", entry.Level))
	}
	return nil
}

// InsertBonusIfAbsent inserts the subscription's completion bonus unless one
// already exists. inserted is false when another bonus won.
func (t *Tx) InsertBonusIfAbsent(ctx context.Context, payment *Payment) (inserted bool, err error) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.Type = PaymentBonus
	payment.Status = PaymentCompleted
	payment.CreatedAt = t.clock.Now()

	res, err := t.q.ExecContext(ctx, `INSERT INTO payments
		(id, subscription_id, month_number, amount_minor, gold_grams, status, payment_type, created_at)
		VALUES ($1, $2, 0, $3, $4, 'completed', 'bonus', $5)
		ON CONFLICT (subscription_id) WHERE payment_type = 'bonus' DO NOTHING`,
		payment.ID, payment.SubscriptionID, ToMinor(payment.Amount), payment.GoldGrams, formatTime(payment.CreatedAt))
	if err != nil {
		err = db.Classify(err, "failed to insert bonus payment")
		return false, errors.WithDetail(err, fmt.Sprintf("Subscription ID: %s", payment.SubscriptionID))
	}

	n, err := rowsAffected(res, "insert bonus payment")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
