package reward

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the authoritative off-chain record that a (student, course) pair
// has been rewarded. At most one exists per pair and it is never deleted.
type Record struct {
	ID            uuid.UUID
	StudentID     int64
	CourseID      int64
	Amount        int64 // frozen at award time
	Status        Status
	TxHash        sql.NullString
	FailureKind   FailureKind
	FailureReason sql.NullString
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition is one entry of the append-only audit trail of a record.
type Transition struct {
	StudentID   int64
	CourseID    int64
	From        Status // empty for the creating entry
	To          Status
	TxHash      sql.NullString
	FailureKind FailureKind
	Reason      sql.NullString
	At          time.Time
}

func NewPending(studentID, courseID, amount int64, now time.Time) *Record {
	return &Record{
		ID:        uuid.New(),
		StudentID: studentID,
		CourseID:  courseID,
		Amount:    amount,
		Status:    StatusPending,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Record) move(next Status, now time.Time) (Transition, error) {
	if !r.Status.CanTransitionTo(next) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	t := Transition{
		StudentID: r.StudentID,
		CourseID:  r.CourseID,
		From:      r.Status,
		To:        next,
		At:        now,
	}
	r.Status = next
	r.UpdatedAt = now
	return t, nil
}

func (r *Record) MarkCredited(now time.Time) (Transition, error) {
	return r.move(StatusOffChainCredited, now)
}

func (r *Record) MarkSubmitted(txHash string, now time.Time) (Transition, error) {
	t, err := r.move(StatusOnChainSubmitted, now)
	if err != nil {
		return t, err
	}
	r.TxHash = sql.NullString{String: txHash, Valid: true}
	t.TxHash = r.TxHash
	return t, nil
}

func (r *Record) MarkConfirmed(now time.Time) (Transition, error) {
	t, err := r.move(StatusOnChainConfirmed, now)
	if err != nil {
		return t, err
	}
	r.FailureKind = FailureNone
	r.FailureReason = sql.NullString{}
	t.TxHash = r.TxHash
	return t, nil
}

func (r *Record) MarkFailed(kind FailureKind, reason string, now time.Time) (Transition, error) {
	t, err := r.move(StatusFailed, now)
	if err != nil {
		return t, err
	}
	r.FailureKind = kind
	r.FailureReason = sql.NullString{String: reason, Valid: reason != ""}
	t.TxHash = r.TxHash
	t.FailureKind = kind
	t.Reason = r.FailureReason
	return t, nil
}

// ResetForRetry moves a FAILED record back to PENDING for another issuance
// attempt. The previous tx hash is kept until a new one replaces it.
func (r *Record) ResetForRetry(now time.Time) (Transition, error) {
	if r.Status != StatusFailed {
		return Transition{}, fmt.Errorf("%w: status is %s", ErrRetryNotAllowed, r.Status)
	}
	t, err := r.move(StatusPending, now)
	if err != nil {
		return t, err
	}
	r.Attempts++
	r.FailureKind = FailureNone
	r.FailureReason = sql.NullString{}
	return t, nil
}
