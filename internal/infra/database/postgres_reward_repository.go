package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"course_rewards/internal/domain/reward"

	"github.com/lib/pq"
)

const rewardPairConstraint = "reward_records_student_course_unique"

type PostgresRewardRepository struct {
	db *sql.DB
}

func NewPostgresRewardRepository(db *sql.DB) *PostgresRewardRepository {
	return &PostgresRewardRepository{db: db}
}

const rewardColumns = `id, student_id, course_id, amount, status, tx_hash, failure_kind, failure_reason, attempts, created_at, updated_at`

func scanReward(row rowScanner) (*reward.Record, error) {
	rec := &reward.Record{}
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Amount, &rec.Status, &rec.TxHash,
		&rec.FailureKind, &rec.FailureReason, &rec.Attempts, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create inserts the PENDING record and its creating transition in one
// transaction. The unique constraint on (student_id, course_id) decides
// concurrent creates.
func (r *PostgresRewardRepository) Create(ctx context.Context, rec *reward.Record) error {
	return withTx(ctx, r.db, func(txn *sql.Tx) error {
		query := `INSERT INTO reward_records (` + rewardColumns + `)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err := txn.ExecContext(ctx, query,
			rec.ID, rec.StudentID, rec.CourseID, rec.Amount, rec.Status, rec.TxHash,
			rec.FailureKind, rec.FailureReason, rec.Attempts, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, rewardPairConstraint) {
				return reward.ErrDuplicateAwardAttempt
			}
			return fmt.Errorf("error creating reward record: %w", err)
		}

		return insertTransition(ctx, txn, reward.Transition{
			StudentID: rec.StudentID,
			CourseID:  rec.CourseID,
			To:        rec.Status,
			At:        rec.CreatedAt,
		})
	})
}

func (r *PostgresRewardRepository) Get(ctx context.Context, studentID, courseID int64) (*reward.Record, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_records WHERE student_id = $1 AND course_id = $2`
	rec, err := scanReward(r.db.QueryRowContext(ctx, query, studentID, courseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reward.ErrNotAwarded
		}
		return nil, fmt.Errorf("error getting reward record: %w", err)
	}
	return rec, nil
}

// Save is a compare-and-set on status: the update applies only while the
// stored status still equals t.From.
func (r *PostgresRewardRepository) Save(ctx context.Context, rec *reward.Record, t reward.Transition) error {
	return withTx(ctx, r.db, func(txn *sql.Tx) error {
		query := `UPDATE reward_records
               SET status = $1, tx_hash = $2, failure_kind = $3, failure_reason = $4, attempts = $5, updated_at = $6
               WHERE student_id = $7 AND course_id = $8 AND status = $9`
		res, err := txn.ExecContext(ctx, query,
			rec.Status, rec.TxHash, rec.FailureKind, rec.FailureReason, rec.Attempts, rec.UpdatedAt,
			rec.StudentID, rec.CourseID, t.From)
		if err != nil {
			return fmt.Errorf("error updating reward record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading updated reward rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: expected status %s", reward.ErrStaleRecord, t.From)
		}

		return insertTransition(ctx, txn, t)
	})
}

func (r *PostgresRewardRepository) ListByStatus(ctx context.Context, statuses []reward.Status, updatedBefore time.Time, limit int) ([]*reward.Record, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + rewardColumns + ` FROM reward_records
               WHERE status = ANY($1) AND updated_at < $2
               ORDER BY updated_at, id
               LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(names), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing reward records by status: %w", err)
	}
	defer rows.Close()

	records := make([]*reward.Record, 0)
	for rows.Next() {
		rec, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reward record: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward records: %w", err)
	}
	return records, nil
}

func (r *PostgresRewardRepository) History(ctx context.Context, studentID, courseID int64) ([]reward.Transition, error) {
	query := `SELECT student_id, course_id, from_status, to_status, tx_hash, failure_kind, reason, created_at
               FROM reward_transitions
               WHERE student_id = $1 AND course_id = $2
               ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, studentID, courseID)
	if err != nil {
		return nil, fmt.Errorf("error listing reward transitions: %w", err)
	}
	defer rows.Close()

	history := make([]reward.Transition, 0)
	for rows.Next() {
		var t reward.Transition
		if err := rows.Scan(&t.StudentID, &t.CourseID, &t.From, &t.To, &t.TxHash, &t.FailureKind, &t.Reason, &t.At); err != nil {
			return nil, fmt.Errorf("error scanning reward transition: %w", err)
		}
		history = append(history, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward transitions: %w", err)
	}
	return history, nil
}

func insertTransition(ctx context.Context, txn *sql.Tx, t reward.Transition) error {
	query := `INSERT INTO reward_transitions (student_id, course_id, from_status, to_status, tx_hash, failure_kind, reason, created_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := txn.ExecContext(ctx, query, t.StudentID, t.CourseID, t.From, t.To, t.TxHash, t.FailureKind, t.Reason, t.At)
	if err != nil {
		return fmt.Errorf("error recording reward transition %s -> %s: %w", t.From, t.To, err)
	}
	return nil
}
