package schedule

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
)

// ExecutionStore handles persistence of cycle run history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const runColumns = `id, worker_id, trigger_source, status,
		started_at, completed_at, duration_ms,
		processed, failed, skipped, error_message`

// CreateRun records the start of a cycle
func (s *ExecutionStore) CreateRun(ctx context.Context, run *CycleRun) error {
	query := `
		INSERT INTO cycle_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var completedAt, durationMs, errorMessage interface{}
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}
	if run.DurationMs != nil {
		durationMs = *run.DurationMs
	}
	if run.ErrorMessage != nil {
		errorMessage = *run.ErrorMessage
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.WorkerID,
		run.TriggerSource,
		run.Status,
		run.StartedAt,
		completedAt,
		durationMs,
		run.Processed,
		run.Failed,
		run.Skipped,
		errorMessage,
	)
	if err != nil {
		return db.Classify(err, "failed to create cycle run")
	}

	return nil
}

// FinishRun writes the final status, timing and counts of a run
func (s *ExecutionStore) FinishRun(ctx context.Context, run *CycleRun) error {
	query := `
		UPDATE cycle_runs
		SET status = $1,
		    completed_at = $2,
		    duration_ms = $3,
		    processed = $4,
		    failed = $5,
		    skipped = $6,
		    error_message = $7
		WHERE id = $8
	`

	var completedAt, durationMs, errorMessage interface{}
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}
	if run.DurationMs != nil {
		durationMs = *run.DurationMs
	}
	if run.ErrorMessage != nil {
		errorMessage = *run.ErrorMessage
	}

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		completedAt,
		durationMs,
		run.Processed,
		run.Failed,
		run.Skipped,
		errorMessage,
		run.ID,
	)
	if err != nil {
		return db.Classify(err, "failed to update cycle run")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("cycle run not found: %s", run.ID)
	}

	return nil
}

func scanRun(row interface{ Scan(...interface{}) error }) (*CycleRun, error) {
	var run CycleRun
	var completedAt, errorMessage sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.WorkerID,
		&run.TriggerSource,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&durationMs,
		&run.Processed,
		&run.Failed,
		&run.Skipped,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.String
	}
	if durationMs.Valid {
		run.DurationMs = &durationMs.Int64
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *ExecutionStore) GetRun(ctx context.Context, id string) (*CycleRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM cycle_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("cycle run not found: %s", id)
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get cycle run")
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, optionally filtered
// by status. total is the number of runs matching the filter.
func (s *ExecutionStore) ListRuns(ctx context.Context, limit int, statusFilter string) ([]*CycleRun, int, error) {
	baseQuery := ` FROM cycle_runs`
	args := []interface{}{}
	if statusFilter != "" {
		baseQuery += ` WHERE status = $1`
		args = append(args, statusFilter)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "failed to count cycle runs")
	}

	args = append(args, limit)
	query := `SELECT ` + runColumns + baseQuery + ` ORDER BY started_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err, "failed to list cycle runs")
	}
	defer rows.Close()

	var runs []*CycleRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan cycle run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "error iterating cycle runs")
	}

	return runs, total, nil
}

// CleanupOldRuns deletes runs started before cutoff and returns how many
// were removed. Keeps the history table from growing without bound.
func (s *ExecutionStore) CleanupOldRuns(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cycle_runs WHERE started_at < $1`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, db.Classify(err, "failed to clean up cycle runs")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(deleted), nil
}
