package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/clock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn, WithClock(clock.NewFixed(testNow))), mock
}

var jobColumns = []string{"id", "status", "scheduled_for", "payload", "locked_by", "attempts", "last_error", "created_at", "updated_at"}

func TestFetchDue_BusyStoreIsTransient(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM commission_jobs").
		WithArgs("2024-06-15", 50).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})

	_, err := s.FetchDue(context.Background(), clock.MustDate("2024-06-15"), 50)
	require.Error(t, err)
	assert.Equal(t, errors.KindTransient, errors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchDue_UndecodableRowIsBusinessRule(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows(jobColumns).
		AddRow("job-1", "pending", "15/06/2024", `{"payment_id":"p1"}`, nil, 0, nil, "2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z")
	mock.ExpectQuery("SELECT .* FROM commission_jobs").WillReturnRows(rows)

	_, err := s.FetchDue(context.Background(), clock.MustDate("2024-06-15"), 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBusinessRule))
}

func TestClaim_ConnectionLossIsTransient(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE commission_jobs").
		WithArgs("worker-a", "2024-06-15T09:00:00Z", "job-1").
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	_, err := s.Claim(context.Background(), "job-1", "worker-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransientStore))
	assert.Contains(t, errors.FlattenDetails(err), "Job ID: job-1")
}

func TestClaim_NoRowsIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE commission_jobs").WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err := s.Claim(context.Background(), "job-1", "worker-a")
	assert.Equal(t, errors.KindClaimConflict, errors.KindOf(err))
}

func TestMarkFailed_ZeroRowsIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE commission_jobs").
		WithArgs("boom", "2024-06-15T09:00:00Z", "job-1", "worker-a").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkFailed(context.Background(), "job-1", "worker-a", "boom")
	assert.True(t, errors.Is(err, errors.ErrClaimConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_CommitFailureIsClassified(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	err := s.InTx(context.Background(), func(tx *Tx) error {
		return tx.CreditReferral(context.Background(), "u1", decimal.RequireFromString("12.34"))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransientStore))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_ErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO balances").
		WithArgs("u1", int64(0), int64(1234), int64(1234), "2024-06-15T09:00:00Z").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	cause := errors.BusinessRulef("negative payout")
	err := s.InTx(context.Background(), func(tx *Tx) error {
		if err := tx.CreditReferral(context.Background(), "u1", decimal.RequireFromString("12.34")); err != nil {
			return err
		}
		return cause
	})
	assert.True(t, errors.Is(err, cause))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTimeout_BoundsCalls(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	s := NewStore(conn, WithTimeout(20*time.Millisecond))
	mock.ExpectQuery("SELECT .* FROM commission_jobs").
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err = s.GetJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrTransientStore), "deadline overruns are not transient")
}
