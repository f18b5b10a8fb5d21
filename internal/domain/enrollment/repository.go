package enrollment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotEnrolled     = errors.New("student is not enrolled in course")
	ErrUnknownLesson   = errors.New("lesson is not part of course")
	ErrAlreadyEnrolled = errors.New("student is already enrolled in course")
	ErrCourseMismatch  = errors.New("course does not match enrollment")
)

// Repository persists enrollments keyed by (studentID, courseID).
type Repository interface {
	// Create fails with ErrAlreadyEnrolled if the pair already exists.
	Create(ctx context.Context, e *Enrollment) error
	// Get fails with ErrNotEnrolled if the pair does not exist.
	Get(ctx context.Context, studentID, courseID int64) (*Enrollment, error)
	// Mutate loads the enrollment exclusively, applies fn and persists the
	// result atomically. Nothing is written if fn returns an error.
	Mutate(ctx context.Context, studentID, courseID int64, fn func(e *Enrollment) error) (*Enrollment, error)
	// ListCompletedWithoutReward returns enrollments completed before
	// completedBefore for which no reward record exists, oldest first.
	ListCompletedWithoutReward(ctx context.Context, completedBefore time.Time, limit int) ([]*Enrollment, error)
}
