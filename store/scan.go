package store

import (
	"database/sql"

	"github.com/teranos/aurum/errors"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// JobScanArgs holds the variables needed for scanning a job from a database row.
type JobScanArgs struct {
	ScheduledFor string
	Payload      sql.NullString
	LockedBy     sql.NullString
	LastError    sql.NullString
	CreatedAt    string
	UpdatedAt    string
}

// GetJobScanTargets returns a slice of pointers for the job and scan args,
// in the order of StandardJobSelectColumns
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Status,
		&args.ScheduledFor,
		&args.Payload,
		&args.LockedBy,
		&job.Attempts,
		&args.LastError,
		&args.CreatedAt,
		&args.UpdatedAt,
	}
}

// ProcessJobScanArgs converts the scanned text columns and populates the job.
// Undecodable rows are business rule failures.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	var err error
	if job.ScheduledFor, err = parseDate(args.ScheduledFor); err != nil {
		return errors.AsBusinessRule(err, "job "+job.ID+": scheduled_for")
	}
	if job.CreatedAt, err = parseTime(args.CreatedAt); err != nil {
		return errors.AsBusinessRule(err, "job "+job.ID+": created_at")
	}
	if job.UpdatedAt, err = parseTime(args.UpdatedAt); err != nil {
		return errors.AsBusinessRule(err, "job "+job.ID+": updated_at")
	}

	if args.Payload.Valid {
		job.RawPayload = []byte(args.Payload.String)
	}
	if args.LockedBy.Valid {
		job.LockedBy = args.LockedBy.String
	}
	if args.LastError.Valid {
		msg := args.LastError.String
		job.LastError = &msg
	}

	return nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, status, scheduled_for, payload, locked_by,
		attempts, last_error, created_at, updated_at`
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args JobScanArgs
	if err := row.Scan(GetJobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	if err := ProcessJobScanArgs(&job, &args); err != nil {
		return nil, err
	}
	return &job, nil
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", context)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

const planColumns = `id, name, monthly_due_minor, total_months, levels, created_at`

func scanPlan(row rowScanner) (*Plan, error) {
	var p Plan
	var monthlyDue int64
	var levels, createdAt string
	if err := row.Scan(&p.ID, &p.Name, &monthlyDue, &p.TotalMonths, &levels, &createdAt); err != nil {
		return nil, err
	}
	p.MonthlyDue = FromMinor(monthlyDue)
	p.Levels = []byte(levels)

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.AsBusinessRule(err, "plan "+p.ID+": created_at")
	}
	return &p, nil
}

const subscriptionColumns = `id, user_id, plan_id, start_date, status,
		total_paid_minor, bonus_amount_minor, created_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	var s Subscription
	var startDate, createdAt string
	var totalPaid, bonus int64
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &startDate, &s.Status, &totalPaid, &bonus, &createdAt); err != nil {
		return nil, err
	}
	s.TotalPaid = FromMinor(totalPaid)
	s.BonusAmount = FromMinor(bonus)

	var err error
	if s.StartDate, err = parseDate(startDate); err != nil {
		return nil, errors.AsBusinessRule(err, "subscription "+s.ID+": start_date")
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.AsBusinessRule(err, "subscription "+s.ID+": created_at")
	}
	return &s, nil
}

func scanSubscriptions(rows *sql.Rows) ([]Subscription, error) {
	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan subscription")
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating subscriptions")
	}
	return subs, nil
}

const paymentColumns = `id, subscription_id, month_number, amount_minor, gold_grams,
		status, payment_type, created_at`

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	var amount int64
	var createdAt string
	if err := row.Scan(&p.ID, &p.SubscriptionID, &p.MonthNumber, &amount, &p.GoldGrams, &p.Status, &p.Type, &createdAt); err != nil {
		return nil, err
	}
	p.Amount = FromMinor(amount)

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.AsBusinessRule(err, "payment "+p.ID+": created_at")
	}
	return &p, nil
}

func scanPayments(rows *sql.Rows) ([]Payment, error) {
	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan payment")
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating payments")
	}
	return payments, nil
}

const ledgerColumns = `id, job_id, user_id, from_user_id, level, amount_minor, status, created_at`

func scanLedgerEntries(rows *sql.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var amount int64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.JobID, &e.UserID, &e.FromUserID, &e.Level, &amount, &e.Status, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}
		e.Amount = FromMinor(amount)

		var err error
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.AsBusinessRule(err, "ledger entry "+e.ID+": created_at")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating ledger entries")
	}
	return entries, nil
}
