package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"course_rewards/internal/domain/course"
	"course_rewards/internal/domain/enrollment"
	"course_rewards/internal/domain/student"

	"github.com/sirupsen/logrus"
)

// EnrollmentTracker records lesson completions and derives course completion.
type EnrollmentTracker struct {
	enrollments enrollment.Repository
	courses     course.Repository
	students    student.Repository
	logger      *logrus.Entry
	now         func() time.Time
}

func NewEnrollmentTracker(er enrollment.Repository, cr course.Repository, sr student.Repository, logger *logrus.Entry) *EnrollmentTracker {
	return &EnrollmentTracker{
		enrollments: er,
		courses:     cr,
		students:    sr,
		logger:      logger.WithField("component", "enrollment_tracker"),
		now:         time.Now,
	}
}

// TrackResult is the outcome of an enrollment or lesson completion.
// JustCompleted is true only for the call that completed the course.
type TrackResult struct {
	Enrollment    *enrollment.Enrollment
	Progress      enrollment.Progress
	JustCompleted bool
}

// Enroll creates the enrollment for the pair. Enrolling twice returns the
// existing enrollment with JustCompleted=false.
func (t *EnrollmentTracker) Enroll(ctx context.Context, studentID, courseID int64) (*TrackResult, error) {
	if _, err := t.students.GetByID(ctx, studentID); err != nil {
		return nil, fmt.Errorf("failed to get student %d: %w", studentID, err)
	}
	c, err := t.courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get course %d: %w", courseID, err)
	}

	e := enrollment.New(studentID, c, t.now())
	err = t.enrollments.Create(ctx, e)
	if errors.Is(err, enrollment.ErrAlreadyEnrolled) {
		existing, getErr := t.enrollments.Get(ctx, studentID, courseID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load existing enrollment: %w", getErr)
		}
		t.logger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID}).Debug("Student already enrolled")
		return &TrackResult{Enrollment: existing, Progress: existing.Progress(c)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	justCompleted := e.State() == enrollment.StateCompleted
	t.logger.WithFields(logrus.Fields{
		"student_id":     studentID,
		"course_id":      courseID,
		"lesson_count":   c.LessonCount(),
		"just_completed": justCompleted,
	}).Info("Student enrolled")

	return &TrackResult{Enrollment: e, Progress: e.Progress(c), JustCompleted: justCompleted}, nil
}

// CompleteLesson adds lessonID to the completed set of the enrollment.
func (t *EnrollmentTracker) CompleteLesson(ctx context.Context, studentID, courseID, lessonID int64, timeSpent time.Duration) (*TrackResult, error) {
	c, err := t.courseForEnrollment(ctx, courseID)
	if err != nil {
		return nil, err
	}

	var justCompleted bool
	e, err := t.enrollments.Mutate(ctx, studentID, courseID, func(e *enrollment.Enrollment) error {
		var innerErr error
		justCompleted, innerErr = e.CompleteLesson(c, lessonID, timeSpent, t.now())
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	progress := e.Progress(c)
	t.logger.WithFields(logrus.Fields{
		"student_id":     studentID,
		"course_id":      courseID,
		"lesson_id":      lessonID,
		"completed":      progress.CompletedCount,
		"total":          progress.TotalCount,
		"just_completed": justCompleted,
	}).Info("Lesson completion recorded")

	return &TrackResult{Enrollment: e, Progress: progress, JustCompleted: justCompleted}, nil
}

func (t *EnrollmentTracker) GetProgress(ctx context.Context, studentID, courseID int64) (enrollment.Progress, error) {
	c, err := t.courseForEnrollment(ctx, courseID)
	if err != nil {
		return enrollment.Progress{}, err
	}
	e, err := t.enrollments.Get(ctx, studentID, courseID)
	if err != nil {
		return enrollment.Progress{}, err
	}
	return e.Progress(c), nil
}

// CompletedWithoutReward lists enrollments completed more than staleAfter
// ago that have no reward record, oldest first.
func (t *EnrollmentTracker) CompletedWithoutReward(ctx context.Context, staleAfter time.Duration, limit int) ([]*enrollment.Enrollment, error) {
	missed, err := t.enrollments.ListCompletedWithoutReward(ctx, t.now().Add(-staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions without reward: %w", err)
	}
	return missed, nil
}

// courseForEnrollment maps a missing course to ErrNotEnrolled: no enrollment
// can exist for it.
func (t *EnrollmentTracker) courseForEnrollment(ctx context.Context, courseID int64) (*course.Course, error) {
	c, err := t.courses.GetByID(ctx, courseID)
	if errors.Is(err, course.ErrCourseNotFound) {
		return nil, enrollment.ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course %d: %w", courseID, err)
	}
	return c, nil
}
