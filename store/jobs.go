package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
)

// FetchDue returns pending jobs scheduled on or before today, oldest first
// (ties broken by creation time, then id), at most limit rows.
func (s *Store) FetchDue(ctx context.Context, today time.Time, limit int) ([]Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM commission_jobs
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC, created_at ASC, id ASC
		LIMIT $2`

	rows, err := s.q.QueryContext(ctx, query, formatDate(today), limit)
	if err != nil {
		return nil, db.Classify(err, "failed to fetch due jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "due jobs")
}

// Claim moves a pending job to processing under workerID in one conditional
// update and returns the claimed row. A job that is no longer pending yields
// ErrClaimConflict.
func (s *Store) Claim(ctx context.Context, jobID, workerID string) (*Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `UPDATE commission_jobs
		SET status = 'processing', locked_by = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'
		RETURNING ` + StandardJobSelectColumns()

	job, err := scanJob(s.q.QueryRowContext(ctx, query, workerID, s.now(), jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrClaimConflict, "claim %s", jobID)
	}
	if err != nil {
		err = db.Classify(err, "failed to claim job")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jobID))
	}
	return job, nil
}

// MarkFailed records a processing failure: the job becomes failed, attempts
// increments and last_error is set. Only the owning worker can fail a job.
func (s *Store) MarkFailed(ctx context.Context, jobID, workerID, message string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `UPDATE commission_jobs
		SET status = 'failed', attempts = attempts + 1, last_error = $1, updated_at = $2
		WHERE id = $3 AND status = 'processing' AND locked_by = $4`,
		message, s.now(), jobID, workerID)
	if err != nil {
		return errors.WithDetail(db.Classify(err, "failed to mark job failed"), fmt.Sprintf("Job ID: %s", jobID))
	}

	n, err := rowsAffected(res, "mark job failed")
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrClaimConflict, "mark %s failed: not owned by %s", jobID, workerID)
	}
	return nil
}

// Release hands a claimed job back to pending without counting an attempt.
// Used after infrastructure failures that left the data untouched.
func (s *Store) Release(ctx context.Context, jobID, workerID, message string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `UPDATE commission_jobs
		SET status = 'pending', locked_by = NULL, last_error = $1, updated_at = $2
		WHERE id = $3 AND status = 'processing' AND locked_by = $4`,
		message, s.now(), jobID, workerID)
	if err != nil {
		return errors.WithDetail(db.Classify(err, "failed to release job"), fmt.Sprintf("Job ID: %s", jobID))
	}

	n, err := rowsAffected(res, "release job")
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrClaimConflict, "release %s: not owned by %s", jobID, workerID)
	}
	return nil
}

// EnqueueCommission creates a pending job for a completed payment.
// This is the payment-completion hook of the checkout flow.
func (s *Store) EnqueueCommission(ctx context.Context, paymentID string, scheduledFor time.Time) (*Job, error) {
	payment, err := s.Payment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(JobPayload{PaymentID: payment.ID, SubscriptionID: payment.SubscriptionID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal job payload")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	id := uuid.NewString()
	_, err = s.q.ExecContext(ctx, `INSERT INTO commission_jobs
		(id, status, scheduled_for, payload, attempts, created_at, updated_at)
		VALUES ($1, 'pending', $2, $3, 0, $4, $5)`,
		id, formatDate(scheduledFor), string(payload), now, now)
	if err != nil {
		err = db.Classify(err, "failed to enqueue commission job")
		return nil, errors.WithDetail(err, fmt.Sprintf("Payment ID: %s", paymentID))
	}

	return s.GetJob(ctx, id)
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + StandardJobSelectColumns() + ` FROM commission_jobs WHERE id = $1`

	job, err := scanJob(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get job")
	}
	return job, nil
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status *JobStatus
	Limit  int
}

// ListJobs returns jobs, newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM commission_jobs`
	var rows *sql.Rows
	var err error
	if filter.Status != nil {
		rows, err = s.q.QueryContext(ctx, baseQuery+` WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, *filter.Status, limit)
	} else {
		rows, err = s.q.QueryContext(ctx, baseQuery+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, db.Classify(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ResetFailed returns a failed job to pending so the next cycle retries it.
// Attempts and last_error are kept for the audit trail.
func (s *Store) ResetFailed(ctx context.Context, jobID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `UPDATE commission_jobs
		SET status = 'pending', locked_by = NULL, updated_at = $1
		WHERE id = $2 AND status = 'failed'`,
		s.now(), jobID)
	if err != nil {
		return db.Classify(err, "failed to reset job")
	}

	n, err := rowsAffected(res, "reset job")
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
		return errors.WithHint(
			errors.Newf("job %s is not failed", jobID),
			"only failed jobs can be reset; use `aurum jobs recover` for stuck processing jobs",
		)
	}
	return nil
}

// RecoverStale returns processing jobs whose claim is older than olderThan to
// pending. The owner guard on completion keeps a slow original worker from
// committing after the job has been handed on.
func (s *Store) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cutoff := formatTime(s.clock.Now().Add(-olderThan))
	res, err := s.q.ExecContext(ctx, `UPDATE commission_jobs
		SET status = 'pending', locked_by = NULL, updated_at = $1
		WHERE status = 'processing' AND updated_at < $2`,
		s.now(), cutoff)
	if err != nil {
		return 0, db.Classify(err, "failed to recover stale jobs")
	}

	n, err := rowsAffected(res, "recover stale jobs")
	return int(n), err
}

// JobStats counts jobs by status
func (s *Store) JobStats(ctx context.Context) (JobStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var stats JobStats
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM commission_jobs GROUP BY status`)
	if err != nil {
		return stats, db.Classify(err, "failed to count jobs")
	}
	defer rows.Close()

	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, errors.Wrap(err, "failed to scan job count")
		}
		switch status {
		case JobStatusPending:
			stats.Pending = count
		case JobStatusProcessing:
			stats.Processing = count
		case JobStatusCompleted:
			stats.Completed = count
		case JobStatusFailed:
			stats.Failed = count
		}
	}
	return stats, errors.Wrap(rows.Err(), "error iterating job counts")
}

// CompleteJob marks the job completed inside the payout transaction, guarded
// by ownership. Zero rows affected means the claim was lost and the
// transaction must roll back.
func (t *Tx) CompleteJob(ctx context.Context, jobID, workerID string) error {
	res, err := t.q.ExecContext(ctx, `UPDATE commission_jobs
		SET status = 'completed', updated_at = $1
		WHERE id = $2 AND status = 'processing' AND locked_by = $3`,
		t.now(), jobID, workerID)
	if err != nil {
		return db.Classify(err, "failed to complete job")
	}

	n, err := rowsAffected(res, "complete job")
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrClaimConflict, "complete %s: not owned by %s", jobID, workerID)
	}
	return nil
}
