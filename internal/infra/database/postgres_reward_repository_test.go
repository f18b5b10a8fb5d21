package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"course_rewards/internal/domain/reward"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestRewardCreate_PairViolationIsDuplicateAttempt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRewardRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reward_records").
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: rewardPairConstraint})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), reward.NewPending(7, 3, 100, time.Now()))
	assert.ErrorIs(t, err, reward.ErrDuplicateAwardAttempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRewardCreate_OtherViolationIsNotDuplicateAttempt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRewardRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reward_records").
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "reward_records_pkey"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), reward.NewPending(7, 3, 100, time.Now()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, reward.ErrDuplicateAwardAttempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRewardCreate_WritesRecordAndTransition(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRewardRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reward_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reward_transitions").
		WithArgs(int64(7), int64(3), "", string(reward.StatusPending), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), reward.NewPending(7, 3, 100, time.Now())))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func submittedRecord(t *testing.T) (*reward.Record, reward.Transition) {
	t.Helper()
	rec := reward.NewPending(7, 3, 100, time.Now())
	tr, err := rec.MarkSubmitted("0xabc", time.Now())
	require.NoError(t, err)
	return rec, tr
}

func TestRewardSave_StatusChangedIsStale(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRewardRepository(db)
	rec, tr := submittedRecord(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reward_records").
		WithArgs(string(reward.StatusOnChainSubmitted), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			int64(7), int64(3), string(reward.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), rec, tr)
	assert.ErrorIs(t, err, reward.ErrStaleRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRewardSave_AppliesTransition(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRewardRepository(db)
	rec, tr := submittedRecord(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reward_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reward_transitions").
		WithArgs(int64(7), int64(3), string(reward.StatusPending), string(reward.StatusOnChainSubmitted), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), rec, tr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRewardGet_NoRowsIsNotAwarded(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRewardRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM reward_records").
		WithArgs(int64(7), int64(3)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 7, 3)
	assert.ErrorIs(t, err, reward.ErrNotAwarded)
	assert.NoError(t, mock.ExpectationsWereMet())
}
