package claim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
	aurumtest "github.com/teranos/aurum/internal/testing"
	"github.com/teranos/aurum/store"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultBatchLimit, ClampLimit(0))
	assert.Equal(t, DefaultBatchLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxBatchLimit, ClampLimit(5000))
}

// recordingStore captures the limit passed through
type recordingStore struct {
	limit int
}

func (r *recordingStore) FetchDue(_ context.Context, _ time.Time, limit int) ([]store.Job, error) {
	r.limit = limit
	return nil, nil
}

func (r *recordingStore) Claim(context.Context, string, string) (*store.Job, error) {
	return nil, errors.Wrap(errors.ErrClaimConflict, "claim")
}

func TestFetchDue_AppliesDefaultLimit(t *testing.T) {
	rec := &recordingStore{}
	c := NewCoordinator(rec, zaptest.NewLogger(t).Sugar())

	_, err := c.FetchDue(context.Background(), clock.MustDate("2024-06-01"), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchLimit, rec.limit)
}

func TestFetchDue_YesterdayNotTomorrow(t *testing.T) {
	conn := aurumtest.CreateTestDB(t)
	aurumtest.SeedPlan(t, conn, "p", 10, 100000, aurumtest.PercentLevels("10"))
	aurumtest.SeedSubscription(t, conn, "sub", "u", "p", "2024-01-01", 0)
	aurumtest.SeedPayment(t, conn, "pay", "sub", 1, 100000, "completed", "monthly")
	aurumtest.SeedJob(t, conn, "X", "pending", "2024-06-14", "pay")
	aurumtest.SeedJob(t, conn, "Y", "pending", "2024-06-16", "pay")

	c := NewCoordinator(store.NewStore(conn), zaptest.NewLogger(t).Sugar())
	jobs, err := c.FetchDue(context.Background(), clock.MustDate("2024-06-15"), 50)
	require.NoError(t, err)

	require.Len(t, jobs, 1)
	assert.Equal(t, "X", jobs[0].ID)
}

func TestClaim_RequiresWorker(t *testing.T) {
	c := NewCoordinator(&recordingStore{}, nil)
	_, err := c.Claim(context.Background(), "job", "")
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))
}

func TestClaim_ExactlyOneWorkerWins(t *testing.T) {
	conn := aurumtest.CreateTestDB(t)
	aurumtest.SeedPlan(t, conn, "p", 10, 100000, aurumtest.PercentLevels("10"))
	aurumtest.SeedSubscription(t, conn, "sub", "u", "p", "2024-01-01", 0)
	aurumtest.SeedPayment(t, conn, "pay", "sub", 1, 100000, "completed", "monthly")
	for i := 0; i < 5; i++ {
		aurumtest.SeedJob(t, conn, fmt.Sprintf("job-%d", i), "pending", "2024-06-01", "pay")
	}

	// Every worker sees the same batch, as separate processes would
	s := store.NewStore(conn)
	c := NewCoordinator(s, zaptest.NewLogger(t).Sugar())
	batch, err := c.FetchDue(context.Background(), clock.MustDate("2024-06-15"), 50)
	require.NoError(t, err)
	require.Len(t, batch, 5)

	const workers = 4
	var claimed, conflicts atomic.Int32
	owners := make(map[string]string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for _, job := range batch {
				got, err := c.Claim(context.Background(), job.ID, worker)
				if errors.Is(err, errors.ErrClaimConflict) {
					conflicts.Add(1)
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				claimed.Add(1)
				mu.Lock()
				owners[got.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	assert.Equal(t, int32(5), claimed.Load(), "every job claimed exactly once")
	assert.Equal(t, int32(5*(workers-1)), conflicts.Load())

	for id, owner := range owners {
		job, err := s.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, store.JobStatusProcessing, job.Status)
		assert.Equal(t, owner, job.LockedBy)
	}
}
