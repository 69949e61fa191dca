// Package cycle runs one commission cycle: fetch the due jobs, claim each
// one, pay it out, and record what happened.
//
// Every job is settled independently. A lost claim is skipped quietly, an
// infrastructure failure hands the job back to pending, and a bad-data
// failure parks the job as failed for an operator. Only a failure that
// makes the whole cycle meaningless (the due jobs cannot be fetched, the
// configuration is unusable) aborts it.
package cycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/commission"
	"github.com/teranos/aurum/db"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
	"github.com/teranos/aurum/internal/util"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/pulse"
	"github.com/teranos/aurum/pulse/claim"
	"github.com/teranos/aurum/pulse/schedule"
	"github.com/teranos/aurum/store"
)

// Steps reported in cycle errors
const (
	StepFetch      = "fetch"
	StepClaim      = "claim"
	StepProcess    = "process"
	StepRelease    = "release"
	StepMarkFailed = "mark_failed"
)

// DefaultStoreTimeout bounds the bookkeeping calls made after a job fails
const DefaultStoreTimeout = 10 * time.Second

// Coordinator fetches and claims due jobs
type Coordinator interface {
	FetchDue(ctx context.Context, today time.Time, limit int) ([]store.Job, error)
	Claim(ctx context.Context, jobID, workerID string) (*store.Job, error)
}

// Processor pays out a claimed job
type Processor interface {
	Process(ctx context.Context, job *store.Job) (*commission.Result, error)
}

// JobSettler settles jobs that could not be completed
type JobSettler interface {
	MarkFailed(ctx context.Context, jobID, workerID, message string) error
	Release(ctx context.Context, jobID, workerID, message string) error
}

// RunRecorder persists cycle run history
type RunRecorder interface {
	CreateRun(ctx context.Context, run *schedule.CycleRun) error
	FinishRun(ctx context.Context, run *schedule.CycleRun) error
}

// Error is one entry of a cycle summary
type Error struct {
	ID      string `json:"id"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// Summary is the outcome of one cycle
type Summary struct {
	Processed int     `json:"processed"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Errors    []Error `json:"errors"`
}

func (s *Summary) addError(id, step string, err error) {
	s.Errors = append(s.Errors, Error{ID: id, Step: step, Message: err.Error()})
}

// Deps are the collaborators of a Runner. Coordinator, Processor, Settler
// and WorkerID are required.
type Deps struct {
	Coordinator Coordinator
	Processor   Processor
	Settler     JobSettler
	Runs        RunRecorder // optional

	WorkerID      string
	BatchLimit    int
	JobsPerSecond float64 // 0 = unthrottled
	StoreTimeout  time.Duration
	Clock         clock.Clock
	Location      *time.Location
	Trigger       string
	Progress      pulse.ProgressEmitter
	Logger        *zap.SugaredLogger
}

// Runner executes commission cycles for one worker
type Runner struct {
	deps    Deps
	logger  pulse.Logger
	limiter *rate.Limiter
	closer  func() error
}

// NewRunner validates deps and fills in defaults
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Coordinator == nil || deps.Processor == nil || deps.Settler == nil {
		return nil, errors.AsFatal(errors.New("coordinator, processor and settler are required"), "new cycle runner")
	}
	if deps.WorkerID == "" {
		return nil, errors.WithHint(
			errors.Mark(errors.New("worker id is empty"), errors.ErrFatalConfig),
			"set engine.worker_id or leave it unset to derive one from the hostname",
		)
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = DefaultStoreTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Trigger == "" {
		deps.Trigger = schedule.TriggerCLI
	}
	if deps.Progress == nil {
		deps.Progress = pulse.NopEmitter{}
	}

	r := &Runner{
		deps:   deps,
		logger: pulse.NewLogger(deps.Logger, "pulse.cycle"),
	}
	if deps.JobsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(deps.JobsPerSecond), 1)
	}
	return r, nil
}

// WorkerID returns the identity this runner claims jobs under
func (r *Runner) WorkerID() string {
	return r.deps.WorkerID
}

// Close releases the store opened by Open. It is a no-op for runners built
// with NewRunner.
func (r *Runner) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// DefaultWorkerID derives a worker identity from the hostname plus a short
// random suffix, so that two processes on one host never share an id.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "aurum"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Open builds a runner from explicit configuration: it opens and migrates
// the store and wires the coordinator, processor and run history to it.
func Open(cfg *am.Config, trigger string, log *zap.SugaredLogger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	conn, err := db.OpenWithMigrations(cfg.Database.Driver, db.WithBusyTimeout(cfg.Database.Driver, cfg.Database.DSN, cfg.BusyTimeout()), log)
	if err != nil {
		return nil, err
	}

	s := store.NewStore(conn, store.WithTimeout(cfg.StoreTimeout()))

	workerID := cfg.Engine.WorkerID
	if workerID == "" {
		workerID = DefaultWorkerID()
	}

	r, err := NewRunner(Deps{
		Coordinator:   claim.NewCoordinator(s, log),
		Processor:     commission.NewProcessor(s, cfg.TransactionTimeout(), log),
		Settler:       s,
		Runs:          schedule.NewExecutionStore(conn),
		WorkerID:      workerID,
		BatchLimit:    cfg.Engine.BatchLimit,
		JobsPerSecond: cfg.Engine.JobsPerSecond,
		StoreTimeout:  cfg.StoreTimeout(),
		Location:      loc,
		Trigger:       trigger,
		Logger:        log,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.closer = s.Close
	return r, nil
}

// SetProgress replaces the progress emitter
func (r *Runner) SetProgress(p pulse.ProgressEmitter) {
	if p == nil {
		p = pulse.NopEmitter{}
	}
	r.deps.Progress = p
}

// RunCycle runs one cycle. The summary is always returned; the error is
// non-nil only when the cycle was aborted, and it carries the abort cause.
func (r *Runner) RunCycle(ctx context.Context) (Summary, error) {
	summary := Summary{Errors: []Error{}}
	started := r.deps.Clock.Now()

	run := &schedule.CycleRun{
		ID:            uuid.NewString(),
		WorkerID:      r.deps.WorkerID,
		TriggerSource: r.deps.Trigger,
		Status:        schedule.RunStatusRunning,
		StartedAt:     started.UTC().Format(time.RFC3339),
	}
	ctx = logger.WithRunID(logger.WithWorkerID(ctx, r.deps.WorkerID), run.ID)
	log := logger.FromContext(ctx, r.logger.SugaredLogger)

	r.logger.Starting("Cycle starting",
		logger.FieldRunID, run.ID,
		logger.FieldWorkerID, r.deps.WorkerID)
	r.recordStart(ctx, run)

	err := r.runJobs(ctx, &summary)

	r.recordFinish(ctx, run, summary, err)
	r.deps.Progress.EmitComplete(map[string]interface{}{
		logger.FieldProcessed: summary.Processed,
		logger.FieldFailed:    summary.Failed,
		logger.FieldSkipped:   summary.Skipped,
	})

	fields := []interface{}{
		logger.FieldProcessed, summary.Processed,
		logger.FieldFailed, summary.Failed,
		logger.FieldSkipped, summary.Skipped,
		logger.FieldDurationMS, r.deps.Clock.Now().Sub(started).Milliseconds(),
	}
	if err != nil {
		log.Errorw("Cycle aborted", append(fields,
			logger.FieldError, err,
			logger.FieldErrorKind, errors.KindOf(err))...)
		return summary, err
	}
	r.logger.Closing("Cycle finished", append(fields, logger.FieldRunID, run.ID)...)
	return summary, nil
}

func (r *Runner) runJobs(ctx context.Context, summary *Summary) error {
	today := clock.Today(r.deps.Clock, r.deps.Location)

	r.deps.Progress.EmitStage(StepFetch, fmt.Sprintf("Fetching jobs due on or before %s", today.Format(time.DateOnly)))
	jobs, err := r.deps.Coordinator.FetchDue(ctx, today, r.deps.BatchLimit)
	if err != nil {
		summary.addError("", StepFetch, err)
		r.deps.Progress.EmitError(StepFetch, err)
		if errors.Is(err, errors.ErrFatalConfig) {
			return err
		}
		return errors.AsFatal(err, "cycle aborted")
	}

	r.deps.Progress.EmitStage(StepProcess, fmt.Sprintf("Processing %d due jobs", len(jobs)))
	for i := range jobs {
		if err := r.pace(ctx); err != nil {
			summary.Skipped += len(jobs) - i
			return errors.Wrap(err, "cycle interrupted")
		}

		outcome, err := r.runJob(ctx, &jobs[i], summary)
		if err != nil {
			return err
		}
		r.deps.Progress.EmitProgress(i+1, map[string]interface{}{
			logger.FieldJobID:  jobs[i].ID,
			logger.FieldStatus: outcome,
		})
	}
	return nil
}

// pace blocks until the next job may start
func (r *Runner) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// runJob settles one job and returns its outcome. A non-nil error aborts
// the cycle.
func (r *Runner) runJob(ctx context.Context, job *store.Job, summary *Summary) (string, error) {
	ctx = logger.WithJobID(ctx, job.ID)
	log := logger.FromContext(ctx, r.logger.SugaredLogger)

	claimed, err := r.deps.Coordinator.Claim(ctx, job.ID, r.deps.WorkerID)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrClaimConflict):
		summary.Skipped++
		return "skipped", nil
	case errors.Is(err, errors.ErrFatalConfig):
		summary.addError(job.ID, StepClaim, err)
		return "", err
	default:
		log.Warnw("Claim failed, job left for a later cycle",
			logger.FieldError, err,
			logger.FieldErrorKind, errors.KindOf(err))
		summary.Skipped++
		summary.addError(job.ID, StepClaim, err)
		// The claim may have committed with its acknowledgement lost
		if err := r.releaseUnacked(ctx, job, err); err != nil {
			summary.addError(job.ID, StepRelease, err)
		}
		return "skipped", nil
	}

	if _, err := r.deps.Processor.Process(ctx, claimed); err != nil {
		return r.settle(ctx, claimed, err, summary)
	}
	summary.Processed++
	return "processed", nil
}

// settle decides what a processing failure means for the job
func (r *Runner) settle(ctx context.Context, job *store.Job, procErr error, summary *Summary) (string, error) {
	log := logger.FromContext(ctx, r.logger.SugaredLogger)
	kind := errors.KindOf(procErr)

	switch {
	case kind == errors.KindClaimConflict:
		// Claim recovered by another worker, or the payout already committed.
		log.Debugw("Job no longer owned, skipping", logger.FieldError, procErr)
		summary.Skipped++
		return "skipped", nil

	case kind == errors.KindTransient, kind == errors.KindFatal, ctx.Err() != nil:
		summary.Skipped++
		summary.addError(job.ID, StepProcess, procErr)
		if err := r.release(ctx, job, procErr); err != nil {
			summary.addError(job.ID, StepRelease, err)
		}
		if kind == errors.KindFatal {
			return "", procErr
		}
		log.Warnw("Job released after infrastructure failure",
			logger.FieldError, procErr,
			logger.FieldErrorKind, kind)
		return "released", nil

	default:
		// Business rule, payout deadline or unclassified failure
		summary.Failed++
		summary.addError(job.ID, StepProcess, procErr)
		if err := r.markFailed(ctx, job, procErr); err != nil {
			summary.addError(job.ID, StepMarkFailed, err)
		}
		log.Errorw("Job failed",
			logger.FieldError, procErr,
			logger.FieldErrorKind, kind)
		return "failed", nil
	}
}

// bookkeeping returns a context that outlives cancellation of the cycle, so
// a failure can still be recorded while the process shuts down.
func (r *Runner) bookkeeping(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.deps.StoreTimeout)
}

func (r *Runner) release(ctx context.Context, job *store.Job, cause error) error {
	ctx, cancel := r.bookkeeping(ctx)
	defer cancel()

	err := r.deps.Settler.Release(ctx, job.ID, r.deps.WorkerID, cause.Error())
	if err != nil {
		r.logger.Errorw("Failed to release job",
			logger.FieldJobID, job.ID,
			logger.FieldError, err)
	}
	return err
}

// releaseUnacked hands back a claim that may have landed despite the error.
// A conflict means it never did, which is the common case.
func (r *Runner) releaseUnacked(ctx context.Context, job *store.Job, cause error) error {
	ctx, cancel := r.bookkeeping(ctx)
	defer cancel()

	err := r.deps.Settler.Release(ctx, job.ID, r.deps.WorkerID, cause.Error())
	switch {
	case err == nil:
		r.logger.Infow("Released claim whose acknowledgement was lost", logger.FieldJobID, job.ID)
		return nil
	case errors.Is(err, errors.ErrClaimConflict):
		return nil
	default:
		r.logger.Warnw("Failed to release unacknowledged claim",
			logger.FieldJobID, job.ID,
			logger.FieldError, err)
		return err
	}
}

func (r *Runner) markFailed(ctx context.Context, job *store.Job, cause error) error {
	ctx, cancel := r.bookkeeping(ctx)
	defer cancel()

	err := r.deps.Settler.MarkFailed(ctx, job.ID, r.deps.WorkerID, cause.Error())
	if err != nil {
		r.logger.Errorw("Failed to mark job failed",
			logger.FieldJobID, job.ID,
			logger.FieldError, err)
	}
	return err
}

func (r *Runner) recordStart(ctx context.Context, run *schedule.CycleRun) {
	if r.deps.Runs == nil {
		return
	}
	ctx, cancel := r.bookkeeping(ctx)
	defer cancel()

	if err := r.deps.Runs.CreateRun(ctx, run); err != nil {
		// History is informational; the cycle runs regardless.
		r.logger.Warnw("Failed to record cycle start",
			logger.FieldRunID, run.ID,
			logger.FieldError, err)
	}
}

func (r *Runner) recordFinish(ctx context.Context, run *schedule.CycleRun, summary Summary, cycleErr error) {
	if r.deps.Runs == nil {
		return
	}

	now := r.deps.Clock.Now()
	run.CompletedAt = util.Ptr(now.UTC().Format(time.RFC3339))
	if started, err := time.Parse(time.RFC3339, run.StartedAt); err == nil {
		run.DurationMs = util.Ptr(now.Sub(started).Milliseconds())
	}
	run.Processed = summary.Processed
	run.Failed = summary.Failed
	run.Skipped = summary.Skipped
	run.Status = schedule.RunStatusCompleted
	if cycleErr != nil {
		run.Status = schedule.RunStatusAborted
		run.ErrorMessage = util.Ptr(cycleErr.Error())
	}

	ctx, cancel := r.bookkeeping(ctx)
	defer cancel()
	if err := r.deps.Runs.FinishRun(ctx, run); err != nil {
		r.logger.Warnw("Failed to record cycle finish",
			logger.FieldRunID, run.ID,
			logger.FieldError, err)
	}
}
