package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
)

// Payment retrieves a payment by ID
func (c *queries) Payment(ctx context.Context, id string) (*Payment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	p, err := scanPayment(c.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("payment not found: %s", id)
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get payment")
	}
	return p, nil
}

// Subscription retrieves a subscription by ID
func (c *queries) Subscription(ctx context.Context, id string) (*Subscription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	s, err := scanSubscription(c.q.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("subscription not found: %s", id)
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get subscription")
	}
	return s, nil
}

// Plan retrieves a plan by ID
func (c *queries) Plan(ctx context.Context, id string) (*Plan, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	p, err := scanPlan(c.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("plan not found: %s", id)
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get plan")
	}
	return p, nil
}

// PaymentsForSubscription lists every payment of a subscription, monthly
// instalments in month order followed by the bonus
func (c *queries) PaymentsForSubscription(ctx context.Context, subscriptionID string) ([]Payment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.q.QueryContext(ctx, `SELECT `+paymentColumns+`
		FROM payments
		WHERE subscription_id = $1
		ORDER BY payment_type DESC, month_number ASC, created_at ASC, id ASC`, subscriptionID)
	if err != nil {
		return nil, db.Classify(err, "failed to list payments")
	}
	defer rows.Close()

	return scanPayments(rows)
}

// CompletedMonthlyCount counts completed non-bonus payments of a subscription
func (c *queries) CompletedMonthlyCount(ctx context.Context, subscriptionID string) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var n int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments
		WHERE subscription_id = $1 AND payment_type = 'monthly' AND status = 'completed'`,
		subscriptionID).Scan(&n)
	if err != nil {
		return 0, db.Classify(err, "failed to count completed payments")
	}
	return n, nil
}

// BonusPayment returns the subscription's bonus payment, or nil when none exists
func (c *queries) BonusPayment(ctx context.Context, subscriptionID string) (*Payment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	p, err := scanPayment(c.q.QueryRowContext(ctx, `SELECT `+paymentColumns+`
		FROM payments WHERE subscription_id = $1 AND payment_type = 'bonus'`, subscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get bonus payment")
	}
	return p, nil
}

// ReferrerOf returns the user who referred userID. ok is false when the
// user is unknown or has no referrer.
func (c *queries) ReferrerOf(ctx context.Context, userID string) (referrer string, ok bool, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var referredBy sql.NullString
	err = c.q.QueryRowContext(ctx, `SELECT referred_by FROM referrals WHERE user_id = $1`, userID).Scan(&referredBy)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, db.Classify(err, "failed to look up referrer")
	}
	if !referredBy.Valid || referredBy.String == "" {
		return "", false, nil
	}
	return referredBy.String, true, nil
}

// BonusCandidates lists active and completed subscriptions without a bonus
// payment, in id order after afterID. Cancelled subscriptions are never
// swept. Used to page through a sweep.
func (c *queries) BonusCandidates(ctx context.Context, afterID string, limit int) ([]Subscription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.q.QueryContext(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('active', 'completed') AND id > $1
		  AND NOT EXISTS (
		    SELECT 1 FROM payments p
		    WHERE p.subscription_id = subscriptions.id AND p.payment_type = 'bonus'
		  )
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, db.Classify(err, "failed to list bonus candidates")
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// Balance returns a user's running totals. Users without a balance row have
// zero balances.
func (c *queries) Balance(ctx context.Context, userID string) (*Balance, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var savings, referral, total int64
	var updatedAt string
	err := c.q.QueryRowContext(ctx, `SELECT savings_minor, referral_minor, total_minor, updated_at
		FROM balances WHERE user_id = $1`, userID).Scan(&savings, &referral, &total, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Balance{UserID: userID, Savings: FromMinor(0), Referral: FromMinor(0), Total: FromMinor(0)}, nil
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get balance")
	}

	b := &Balance{
		UserID:   userID,
		Savings:  FromMinor(savings),
		Referral: FromMinor(referral),
		Total:    FromMinor(total),
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.AsBusinessRule(err, "balance "+userID+": updated_at")
	}
	return b, nil
}

// LedgerForJob lists the payouts written by one job, by level
func (c *queries) LedgerForJob(ctx context.Context, jobID string) ([]LedgerEntry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.q.QueryContext(ctx, `SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE job_id = $1 ORDER BY level ASC`, jobID)
	if err != nil {
		return nil, db.Classify(err, "failed to list ledger entries")
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// LedgerForUser lists the payouts a user received, oldest first
func (c *queries) LedgerForUser(ctx context.Context, userID string) ([]LedgerEntry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.q.QueryContext(ctx, `SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE user_id = $1 ORDER BY created_at ASC, job_id ASC, level ASC`, userID)
	if err != nil {
		return nil, db.Classify(err, "failed to list ledger entries")
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// LatestGoldRate returns the most recent rate effective at or before asOf
func (c *queries) LatestGoldRate(ctx context.Context, asOf time.Time) (*GoldRate, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var r GoldRate
	var perGram int64
	var effectiveAt string
	err := c.q.QueryRowContext(ctx, `SELECT id, per_gram_minor, effective_at
		FROM gold_rates
		WHERE effective_at <= $1
		ORDER BY effective_at DESC, id DESC
		LIMIT 1`, formatTime(asOf)).Scan(&r.ID, &perGram, &effectiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("no gold rate effective at %s", formatTime(asOf))
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get gold rate")
	}

	r.PerGram = FromMinor(perGram)
	if r.EffectiveAt, err = parseTime(effectiveAt); err != nil {
		return nil, errors.AsBusinessRule(err, "gold rate "+r.ID+": effective_at")
	}
	return &r, nil
}
