package cycle

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/commission"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
	aurumtest "github.com/teranos/aurum/internal/testing"
	"github.com/teranos/aurum/pulse/claim"
	"github.com/teranos/aurum/pulse/schedule"
	"github.com/teranos/aurum/store"
)

var testNow = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

type env struct {
	conn  *sql.DB
	clock *clock.Fixed
	store *store.Store
	runs  *schedule.ExecutionStore
}

// newEnv seeds subscriber S (upline A <- B <- C) on a 5/4/3 percent plan
// with ten completed monthly payments of 1000.00.
func newEnv(t *testing.T) *env {
	t.Helper()
	conn := aurumtest.CreateTestDB(t)
	clk := clock.NewFixed(testNow)

	aurumtest.SeedPlan(t, conn, "plan-10", 10, 100000, aurumtest.PercentLevels("5", "4", "3"))
	aurumtest.SeedReferralChain(t, conn, "S", "A", "B", "C")
	aurumtest.SeedSubscription(t, conn, "sub-s", "S", "plan-10", "2024-01-01", 450000)
	for m := 1; m <= 10; m++ {
		aurumtest.SeedPayment(t, conn, fmt.Sprintf("pay-%d", m), "sub-s", m, 100000, "completed", "monthly")
	}

	return &env{
		conn:  conn,
		clock: clk,
		store: store.NewStore(conn, store.WithClock(clk)),
		runs:  schedule.NewExecutionStore(conn),
	}
}

func (e *env) deps(t *testing.T, workerID string) Deps {
	log := zaptest.NewLogger(t).Sugar()
	return Deps{
		Coordinator:  claim.NewCoordinator(e.store, log),
		Processor:    commission.NewProcessor(e.store, 5*time.Second, log),
		Settler:      e.store,
		Runs:         e.runs,
		WorkerID:     workerID,
		StoreTimeout: 5 * time.Second,
		Clock:        e.clock,
		Logger:       log,
	}
}

func (e *env) runner(t *testing.T, workerID string) *Runner {
	t.Helper()
	r, err := NewRunner(e.deps(t, workerID))
	require.NoError(t, err)
	return r
}

func (e *env) job(t *testing.T, id string) *store.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (e *env) referral(t *testing.T, userID string) string {
	t.Helper()
	b, err := e.store.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b.Referral.StringFixed(2)
}

// failingProcessor returns err for every job, optionally running hook first
type failingProcessor struct {
	err  error
	hook func()
}

func (p *failingProcessor) Process(_ context.Context, _ *store.Job) (*commission.Result, error) {
	if p.hook != nil {
		p.hook()
	}
	return nil, p.err
}

// recordingRuns keeps cycle runs in memory
type recordingRuns struct {
	mu       sync.Mutex
	created  []schedule.CycleRun
	finished []schedule.CycleRun
}

func (r *recordingRuns) CreateRun(_ context.Context, run *schedule.CycleRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *run)
	return nil
}

func (r *recordingRuns) FinishRun(_ context.Context, run *schedule.CycleRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, *run)
	return nil
}

type brokenCoordinator struct {
	fetchErr error
	claimErr error
	jobs     []store.Job
}

func (c *brokenCoordinator) FetchDue(context.Context, time.Time, int) ([]store.Job, error) {
	return c.jobs, c.fetchErr
}

func (c *brokenCoordinator) Claim(context.Context, string, string) (*store.Job, error) {
	return nil, c.claimErr
}

func TestNewRunner_Validation(t *testing.T) {
	e := newEnv(t)

	deps := e.deps(t, "")
	_, err := NewRunner(deps)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFatalConfig))

	deps = e.deps(t, "w1")
	deps.Processor = nil
	_, err = NewRunner(deps)
	assert.True(t, errors.Is(err, errors.ErrFatalConfig))
}

func TestDefaultWorkerID(t *testing.T) {
	a, b := DefaultWorkerID(), DefaultWorkerID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)

	host, suffix := a[:strings.LastIndex(a, "-")], a[strings.LastIndex(a, "-")+1:]
	assert.NotEmpty(t, host)
	assert.Len(t, suffix, 8)
}

// Job X is due yesterday and pays the three-level upline; job Y is due
// tomorrow and stays pending.
func TestRunCycle_PaysOnlyDueJobs(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-x", "pending", "2024-06-14", "pay-1")
	aurumtest.SeedJob(t, e.conn, "job-y", "pending", "2024-06-16", "pay-2")

	summary, err := e.runner(t, "w1").RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Processed: 1, Errors: []Error{}}, summary)
	assert.Equal(t, store.JobStatusCompleted, e.job(t, "job-x").Status)
	assert.Equal(t, store.JobStatusPending, e.job(t, "job-y").Status)

	assert.Equal(t, "50.00", e.referral(t, "A"))
	assert.Equal(t, "40.00", e.referral(t, "B"))
	assert.Equal(t, "30.00", e.referral(t, "C"))
	assert.Equal(t, 3, aurumtest.CountRows(t, e.conn, "ledger_entries", "job_id = $1", "job-x"))
	assert.Equal(t, 0, aurumtest.CountRows(t, e.conn, "ledger_entries", "job_id = $1", "job-y"))

	runs, total, err := e.runs.ListRuns(context.Background(), 10, "")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, schedule.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, "w1", runs[0].WorkerID)
	assert.Equal(t, schedule.TriggerCLI, runs[0].TriggerSource)
	assert.Equal(t, 1, runs[0].Processed)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestRunCycle_ReplayIsNoop(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-x", "pending", "2024-06-14", "pay-1")
	r := e.runner(t, "w1")

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Errors: []Error{}}, summary)
	assert.Equal(t, "50.00", e.referral(t, "A"))
	assert.Equal(t, 3, aurumtest.CountRows(t, e.conn, "ledger_entries", ""))
}

func TestRunCycle_BusinessRuleFailsJob(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-bad", "pending", "2024-06-14", "pay-missing")
	aurumtest.SeedJob(t, e.conn, "job-ok", "pending", "2024-06-14", "pay-1")

	summary, err := e.runner(t, "w1").RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "job-bad", summary.Errors[0].ID)
	assert.Equal(t, StepProcess, summary.Errors[0].Step)
	assert.Contains(t, summary.Errors[0].Message, "pay-missing")

	bad := e.job(t, "job-bad")
	assert.Equal(t, store.JobStatusFailed, bad.Status)
	assert.Equal(t, 1, bad.Attempts)
	require.NotNil(t, bad.LastError)
	assert.Contains(t, *bad.LastError, "pay-missing")
	assert.Equal(t, 0, aurumtest.CountRows(t, e.conn, "ledger_entries", "job_id = $1", "job-bad"))

	// Failed jobs stay failed on later cycles
	summary, err = e.runner(t, "w1").RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Errors: []Error{}}, summary)
}

func TestRunCycle_TransientFailureReleasesJob(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-x", "pending", "2024-06-14", "pay-1")

	deps := e.deps(t, "w1")
	deps.Processor = &failingProcessor{err: errors.AsTransient(errors.New("database is locked"), "commit transaction")}
	r, err := NewRunner(deps)
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, StepProcess, summary.Errors[0].Step)

	job := e.job(t, "job-x")
	assert.Equal(t, store.JobStatusPending, job.Status)
	assert.Empty(t, job.LockedBy)
	assert.Equal(t, 0, job.Attempts)

	// The next cycle picks the job up again
	summary, err = e.runner(t, "w2").RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestRunCycle_DeadlineFailsJob(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-x", "pending", "2024-06-14", "pay-1")

	deps := e.deps(t, "w1")
	deps.Processor = &failingProcessor{err: errors.Wrap(context.DeadlineExceeded, "commit transaction")}
	r, err := NewRunner(deps)
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, store.JobStatusFailed, e.job(t, "job-x").Status)
}

func TestRunCycle_LostClaimDuringProcessIsSkipped(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-x", "pending", "2024-06-14", "pay-1")

	deps := e.deps(t, "w1")
	deps.Processor = &failingProcessor{err: errors.Wrap(errors.ErrClaimConflict, "complete job")}
	r, err := NewRunner(deps)
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 1, Errors: []Error{}}, summary)
}

func TestRunCycle_ClaimOutcomes(t *testing.T) {
	jobs := []store.Job{{ID: "job-1"}, {ID: "job-2"}}

	tests := []struct {
		name       string
		claimErr   error
		wantErrors int
	}{
		{"conflict is skipped silently", errors.Wrap(errors.ErrClaimConflict, "claim"), 0},
		{"transient is skipped with an error", errors.AsTransient(errors.New("connection refused"), "claim"), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRunner(Deps{
				Coordinator: &brokenCoordinator{jobs: jobs, claimErr: tt.claimErr},
				Processor:   &failingProcessor{err: errors.New("must not be called")},
				Settler:     newEnv(t).store,
				WorkerID:    "w1",
				Clock:       clock.NewFixed(testNow),
				Logger:      zaptest.NewLogger(t).Sugar(),
			})
			require.NoError(t, err)

			summary, err := r.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, summary.Skipped)
			assert.Len(t, summary.Errors, tt.wantErrors)
		})
	}
}

// lostAckCoordinator claims for real, then reports the claim as timed out
type lostAckCoordinator struct {
	*claim.Coordinator
}

func (c lostAckCoordinator) Claim(ctx context.Context, jobID, workerID string) (*store.Job, error) {
	if _, err := c.Coordinator.Claim(ctx, jobID, workerID); err != nil {
		return nil, err
	}
	return nil, errors.Wrap(context.DeadlineExceeded, "claim acknowledgement")
}

func TestRunCycle_UnacknowledgedClaimIsReleased(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-1", "pending", "2024-06-14", "pay-1")

	deps := e.deps(t, "w1")
	deps.Coordinator = lostAckCoordinator{claim.NewCoordinator(e.store, deps.Logger)}
	deps.Processor = &failingProcessor{err: errors.New("must not be called")}
	r, err := NewRunner(deps)
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, StepClaim, summary.Errors[0].Step)

	job := e.job(t, "job-1")
	assert.Equal(t, store.JobStatusPending, job.Status, "claim must not stay stranded under the worker")
	assert.Empty(t, job.LockedBy)
	assert.Equal(t, 0, job.Attempts)

	// The next cycle picks the job up normally
	deps.Coordinator = claim.NewCoordinator(e.store, deps.Logger)
	deps.Processor = commission.NewProcessor(e.store, 5*time.Second, deps.Logger)
	r, err = NewRunner(deps)
	require.NoError(t, err)
	summary, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestRunCycle_FetchFailureAborts(t *testing.T) {
	runs := &recordingRuns{}
	r, err := NewRunner(Deps{
		Coordinator: &brokenCoordinator{fetchErr: errors.AsTransient(errors.New("connection refused"), "fetch due jobs")},
		Processor:   &failingProcessor{},
		Settler:     newEnv(t).store,
		Runs:        runs,
		WorkerID:    "w1",
		Trigger:     schedule.TriggerPulse,
		Clock:       clock.NewFixed(testNow),
		Logger:      zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFatalConfig))
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, StepFetch, summary.Errors[0].Step)

	require.Len(t, runs.created, 1)
	require.Len(t, runs.finished, 1)
	assert.Equal(t, schedule.RunStatusRunning, runs.created[0].Status)
	assert.Equal(t, schedule.TriggerPulse, runs.created[0].TriggerSource)
	assert.Equal(t, schedule.RunStatusAborted, runs.finished[0].Status)
	require.NotNil(t, runs.finished[0].ErrorMessage)
	assert.Contains(t, *runs.finished[0].ErrorMessage, "connection refused")
}

func TestRunCycle_FatalDuringProcessReleasesAndAborts(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-1", "pending", "2024-06-13", "pay-1")
	aurumtest.SeedJob(t, e.conn, "job-2", "pending", "2024-06-14", "pay-2")

	deps := e.deps(t, "w1")
	deps.Processor = &failingProcessor{err: errors.AsFatal(errors.New("credentials revoked"), "begin transaction")}
	r, err := NewRunner(deps)
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFatalConfig))
	assert.Equal(t, 1, summary.Skipped)

	assert.Equal(t, store.JobStatusPending, e.job(t, "job-1").Status)
	assert.Equal(t, store.JobStatusPending, e.job(t, "job-2").Status)

	runs, _, err := e.runs.ListRuns(context.Background(), 10, schedule.RunStatusAborted)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// Cancelling the cycle mid-job hands the job back and leaves the rest alone
func TestRunCycle_CancelledCycleReleasesJob(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-1", "pending", "2024-06-13", "pay-1")
	aurumtest.SeedJob(t, e.conn, "job-2", "pending", "2024-06-14", "pay-2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := e.deps(t, "w1")
	deps.Processor = &failingProcessor{err: context.Canceled, hook: cancel}
	r, err := NewRunner(deps)
	require.NoError(t, err)

	summary, err := r.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	for _, id := range []string{"job-1", "job-2"} {
		job := e.job(t, id)
		assert.Equal(t, store.JobStatusPending, job.Status, id)
		assert.Equal(t, 0, job.Attempts, id)
	}
}

func TestRunCycle_ThrottleStopsAtDeadline(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-1", "pending", "2024-06-13", "pay-1")
	aurumtest.SeedJob(t, e.conn, "job-2", "pending", "2024-06-14", "pay-2")

	deps := e.deps(t, "w1")
	deps.JobsPerSecond = 0.001
	r, err := NewRunner(deps)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := r.RunCycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle interrupted")
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, store.JobStatusCompleted, e.job(t, "job-1").Status)
	assert.Equal(t, store.JobStatusPending, e.job(t, "job-2").Status)
}

func TestRunCycle_ThrottleAllowsBurstOfOne(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-1", "pending", "2024-06-13", "pay-1")
	aurumtest.SeedJob(t, e.conn, "job-2", "pending", "2024-06-14", "pay-2")

	deps := e.deps(t, "w1")
	deps.JobsPerSecond = 50
	r, err := NewRunner(deps)
	require.NoError(t, err)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
}

// Two workers running at once pay every job exactly once
func TestRunCycle_ConcurrentWorkers(t *testing.T) {
	e := newEnv(t)
	for m := 1; m <= 10; m++ {
		aurumtest.SeedJob(t, e.conn, fmt.Sprintf("job-%02d", m), "pending", "2024-06-14", fmt.Sprintf("pay-%d", m))
	}

	runners := []*Runner{e.runner(t, "w1"), e.runner(t, "w2")}
	summaries := make([]Summary, len(runners))

	var wg sync.WaitGroup
	for i, r := range runners {
		wg.Add(1)
		go func(i int, r *Runner) {
			defer wg.Done()
			s, err := r.RunCycle(context.Background())
			assert.NoError(t, err)
			summaries[i] = s
		}(i, r)
	}
	wg.Wait()

	assert.Equal(t, 10, summaries[0].Processed+summaries[1].Processed)
	assert.Equal(t, 0, summaries[0].Failed+summaries[1].Failed)
	assert.Equal(t, 10, aurumtest.CountRows(t, e.conn, "commission_jobs", "status = 'completed'"))
	assert.Equal(t, 30, aurumtest.CountRows(t, e.conn, "ledger_entries", ""))
	assert.Equal(t, "500.00", e.referral(t, "A"))
	assert.Equal(t, "400.00", e.referral(t, "B"))
	assert.Equal(t, "300.00", e.referral(t, "C"))
}

type captureEmitter struct {
	stages   []string
	progress int
	complete map[string]interface{}
}

func (c *captureEmitter) EmitStage(stage string, _ string) { c.stages = append(c.stages, stage) }
func (c *captureEmitter) EmitProgress(count int, _ map[string]interface{}) { c.progress = count }
func (c *captureEmitter) EmitComplete(summary map[string]interface{}) { c.complete = summary }
func (c *captureEmitter) EmitError(string, error) {}
func (c *captureEmitter) EmitInfo(string) {}

func TestRunCycle_EmitsProgress(t *testing.T) {
	e := newEnv(t)
	aurumtest.SeedJob(t, e.conn, "job-1", "pending", "2024-06-14", "pay-1")
	aurumtest.SeedJob(t, e.conn, "job-2", "pending", "2024-06-14", "pay-2")

	r := e.runner(t, "w1")
	emitter := &captureEmitter{}
	r.SetProgress(emitter)

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{StepFetch, StepProcess}, emitter.stages)
	assert.Equal(t, 2, emitter.progress)
	assert.Equal(t, 2, emitter.complete["processed"])
}

func TestOpen(t *testing.T) {
	cfg := am.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "aurum.db")
	cfg.Engine.WorkerID = "w-open"

	r, err := Open(cfg, schedule.TriggerCLI, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	assert.Equal(t, "w-open", r.WorkerID())
	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Errors: []Error{}}, summary)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := am.Default()
	cfg.Database.Driver = "mysql"

	_, err := Open(cfg, schedule.TriggerCLI, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFatalConfig))
}
