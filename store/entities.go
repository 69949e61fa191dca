package store

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/aurum/errors"
)

// JobStatus represents the current state of a commission job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobPayload identifies the payment that triggered a commission job
type JobPayload struct {
	PaymentID      string `json:"payment_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// Job is a durable, claimable unit of commission work.
// Jobs are never deleted; completed and failed rows are the audit trail.
type Job struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	ScheduledFor time.Time       `json:"scheduled_for"` // civil date
	RawPayload   json.RawMessage `json:"payload"`
	LockedBy     string          `json:"locked_by,omitempty"`
	Attempts     int             `json:"attempts"`
	LastError    *string         `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Payload decodes the job payload. A payload that cannot be decoded, or
// that names no payment, needs operator attention.
func (j *Job) Payload() (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(j.RawPayload, &p); err != nil {
		return p, errors.AsBusinessRule(err, "decode job payload")
	}
	if p.PaymentID == "" {
		return p, errors.BusinessRulef("job %s payload has no payment_id", j.ID)
	}
	return p, nil
}

// JobStats counts jobs by status
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of jobs across all statuses
func (s JobStats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// Plan is a savings plan. Levels holds the raw per-level commission table,
// decoded by the commission package.
type Plan struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	MonthlyDue  decimal.Decimal `json:"monthly_due"`
	TotalMonths int             `json:"total_months"`
	Levels      json.RawMessage `json:"levels"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Subscription status values
const (
	SubscriptionActive    = "active"
	SubscriptionCompleted = "completed"
	SubscriptionCancelled = "cancelled"
)

// Subscription binds a user to a plan from a start date
type Subscription struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	PlanID      string          `json:"plan_id"`
	StartDate   time.Time       `json:"start_date"` // civil date
	Status      string          `json:"status"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	BonusAmount decimal.Decimal `json:"bonus_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PaymentStatus represents the settlement state of a payment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentType distinguishes plan instalments from the completion bonus
type PaymentType string

const (
	PaymentMonthly PaymentType = "monthly"
	PaymentBonus   PaymentType = "bonus"
)

// Payment is a monthly instalment or the one-time completion bonus
type Payment struct {
	ID             string              `json:"id"`
	SubscriptionID string              `json:"subscription_id"`
	MonthNumber    int                 `json:"month_number"`
	Amount         decimal.Decimal     `json:"amount"`
	GoldGrams      decimal.NullDecimal `json:"gold_grams"` // bonus only
	Status         PaymentStatus       `json:"status"`
	Type           PaymentType         `json:"payment_type"`
	CreatedAt      time.Time           `json:"created_at"`
}

// LedgerStatusCredited is the status of every ledger entry the engine writes
const LedgerStatusCredited = "credited"

// LedgerEntry records one referral payout. (JobID, Level) is unique.
type LedgerEntry struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	UserID     string          `json:"user_id"`      // recipient
	FromUserID string          `json:"from_user_id"` // subscriber whose payment triggered the payout
	Level      int             `json:"level"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Balance holds a user's running totals
type Balance struct {
	UserID    string          `json:"user_id"`
	Savings   decimal.Decimal `json:"savings"`
	Referral  decimal.Decimal `json:"referral"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// GoldRate is the conversion price of one gram of gold
type GoldRate struct {
	ID          string          `json:"id"`
	PerGram     decimal.Decimal `json:"per_gram"`
	EffectiveAt time.Time       `json:"effective_at"`
}
