// Package claim hands out due commission jobs to workers.
//
// Workers share nothing but the store. Ownership of a job is taken by one
// conditional update (status pending -> processing under the worker's id), so
// of any number of concurrent claimants exactly one wins and the rest get
// errors.ErrClaimConflict.
package claim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/store"
)

const (
	// DefaultBatchLimit is used when a caller asks for no limit
	DefaultBatchLimit = 50
	// MaxBatchLimit caps a single fetch
	MaxBatchLimit = 1000
)

// Store is the job store the coordinator runs against
type Store interface {
	FetchDue(ctx context.Context, today time.Time, limit int) ([]store.Job, error)
	Claim(ctx context.Context, jobID, workerID string) (*store.Job, error)
}

// Coordinator fetches and claims due jobs
type Coordinator struct {
	store  Store
	logger *zap.SugaredLogger
}

// NewCoordinator creates a coordinator over s
func NewCoordinator(s Store, logger *zap.SugaredLogger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Coordinator{store: s, logger: logger.Named("claim")}
}

// ClampLimit maps a requested batch size into 1..MaxBatchLimit
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultBatchLimit
	case limit > MaxBatchLimit:
		return MaxBatchLimit
	default:
		return limit
	}
}

// FetchDue returns pending jobs scheduled on or before today, oldest first.
// Future-dated jobs are never returned.
func (c *Coordinator) FetchDue(ctx context.Context, today time.Time, limit int) ([]store.Job, error) {
	limit = ClampLimit(limit)

	jobs, err := c.store.FetchDue(ctx, today, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch due jobs for %s", today.Format(time.DateOnly))
	}

	c.logger.Debugw("Fetched due jobs",
		logger.FieldCount, len(jobs),
		logger.FieldBatchSize, limit)
	return jobs, nil
}

// Claim takes ownership of jobID for workerID. A lost race is reported as
// errors.ErrClaimConflict and is not an error condition for the caller.
func (c *Coordinator) Claim(ctx context.Context, jobID, workerID string) (*store.Job, error) {
	if workerID == "" {
		return nil, errors.Mark(errors.New("worker id is required to claim a job"), errors.ErrFatalConfig)
	}

	job, err := c.store.Claim(ctx, jobID, workerID)
	if errors.Is(err, errors.ErrClaimConflict) {
		c.logger.Debugw("Job already claimed",
			logger.FieldJobID, jobID,
			logger.FieldWorkerID, workerID)
		return nil, err
	}
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Worker ID: %s", workerID))
	}
	return job, nil
}
