package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"course_rewards/internal/domain/enrollment"

	"github.com/lib/pq"
)

type PostgresEnrollmentRepository struct {
	db *sql.DB
}

func NewPostgresEnrollmentRepository(db *sql.DB) *PostgresEnrollmentRepository {
	return &PostgresEnrollmentRepository{db: db}
}

const enrollmentColumns = `student_id, course_id, completed_lessons, time_spent_seconds, completed_at, enrolled_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (*enrollment.Enrollment, error) {
	e := &enrollment.Enrollment{}
	var lessons pq.Int64Array
	var spentSeconds int64
	if err := row.Scan(&e.StudentID, &e.CourseID, &lessons, &spentSeconds, &e.CompletedAt, &e.EnrolledAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.CompletedLessons = enrollment.NewLessonSet(lessons...)
	e.TimeSpent = time.Duration(spentSeconds) * time.Second
	return e, nil
}

func (r *PostgresEnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) error {
	query := `INSERT INTO enrollments (` + enrollmentColumns + `)
               VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		e.StudentID, e.CourseID, pq.Array(e.CompletedLessons.Slice()), int64(e.TimeSpent/time.Second),
		e.CompletedAt, e.EnrolledAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "enrollments_pkey") {
			return enrollment.ErrAlreadyEnrolled
		}
		return fmt.Errorf("error creating enrollment: %w", err)
	}
	return nil
}

func (r *PostgresEnrollmentRepository) Get(ctx context.Context, studentID, courseID int64) (*enrollment.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND course_id = $2`
	e, err := scanEnrollment(r.db.QueryRowContext(ctx, query, studentID, courseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, enrollment.ErrNotEnrolled
		}
		return nil, fmt.Errorf("error getting enrollment: %w", err)
	}
	return e, nil
}

// Mutate locks the enrollment row for the duration of fn, so concurrent
// lesson completions for the same pair apply one after another.
func (r *PostgresEnrollmentRepository) Mutate(ctx context.Context, studentID, courseID int64, fn func(e *enrollment.Enrollment) error) (*enrollment.Enrollment, error) {
	var e *enrollment.Enrollment
	err := withTx(ctx, r.db, func(txn *sql.Tx) error {
		query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND course_id = $2 FOR UPDATE`
		var err error
		e, err = scanEnrollment(txn.QueryRowContext(ctx, query, studentID, courseID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return enrollment.ErrNotEnrolled
			}
			return fmt.Errorf("error locking enrollment: %w", err)
		}

		if err := fn(e); err != nil {
			return err
		}

		update := `UPDATE enrollments
               SET completed_lessons = $1, time_spent_seconds = $2, completed_at = $3, updated_at = $4
               WHERE student_id = $5 AND course_id = $6`
		_, err = txn.ExecContext(ctx, update,
			pq.Array(e.CompletedLessons.Slice()), int64(e.TimeSpent/time.Second), e.CompletedAt, e.UpdatedAt,
			studentID, courseID)
		if err != nil {
			return fmt.Errorf("error updating enrollment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListCompletedWithoutReward finds completions whose award never produced a
// reward_records row.
func (r *PostgresEnrollmentRepository) ListCompletedWithoutReward(ctx context.Context, completedBefore time.Time, limit int) ([]*enrollment.Enrollment, error) {
	query := `SELECT e.student_id, e.course_id, e.completed_lessons, e.time_spent_seconds, e.completed_at, e.enrolled_at, e.updated_at
               FROM enrollments e
               LEFT JOIN reward_records r ON r.student_id = e.student_id AND r.course_id = e.course_id
               WHERE e.completed_at IS NOT NULL AND e.completed_at < $1 AND r.student_id IS NULL
               ORDER BY e.completed_at
               LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, completedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing completions without reward: %w", err)
	}
	defer rows.Close()

	missed := make([]*enrollment.Enrollment, 0)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning enrollment: %w", err)
		}
		missed = append(missed, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}
	return missed, nil
}
