package reward

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAwarded is the "not yet awarded" sentinel for a pair without a record.
	ErrNotAwarded = errors.New("reward not yet awarded")
	// ErrDuplicateAwardAttempt signals a lost create race at the storage layer.
	// Callers resolve it by reading the existing record; it is never user-facing.
	ErrDuplicateAwardAttempt = errors.New("reward record already exists for student and course")
	ErrStaleRecord           = errors.New("reward record changed concurrently")
	ErrInvalidTransition     = errors.New("invalid reward status transition")
	ErrRetryNotAllowed       = errors.New("retry is only allowed for failed rewards")
	ErrInvalidAddress        = errors.New("student has no valid wallet address")
)

// Repository persists reward records keyed uniquely by (studentID, courseID).
type Repository interface {
	// Create inserts r in PENDING and records the creating transition.
	// It fails with ErrDuplicateAwardAttempt if the pair already has a record.
	Create(ctx context.Context, r *Record) error
	// Get fails with ErrNotAwarded if the pair has no record.
	Get(ctx context.Context, studentID, courseID int64) (*Record, error)
	// Save persists r only if the stored status still equals t.From, and
	// appends t to the audit trail. It fails with ErrStaleRecord otherwise.
	Save(ctx context.Context, r *Record, t Transition) error
	// ListByStatus returns records in one of statuses last updated before the cutoff, oldest first.
	ListByStatus(ctx context.Context, statuses []Status, updatedBefore time.Time, limit int) ([]*Record, error)
	History(ctx context.Context, studentID, courseID int64) ([]Transition, error)
}
