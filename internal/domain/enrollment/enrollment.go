package enrollment

import (
	"database/sql"
	"sort"
	"time"

	"course_rewards/internal/domain/course"
)

// State is the lifecycle state of an enrollment.
type State string

const (
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
)

// LessonSet is an unordered set of completed lesson IDs.
type LessonSet map[int64]struct{}

func NewLessonSet(ids ...int64) LessonSet {
	s := make(LessonSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s LessonSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the IDs in ascending order, as stored in the enrollments table.
func (s LessonSet) Slice() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Enrollment binds one student to one course and tracks lesson completion.
// It is mutated only by lesson-completion events for that exact pair.
type Enrollment struct {
	StudentID        int64
	CourseID         int64
	CompletedLessons LessonSet
	TimeSpent        time.Duration
	CompletedAt      sql.NullTime // set exactly once, on the Active -> Completed transition
	EnrolledAt       time.Time
	UpdatedAt        time.Time
}

// New creates an enrollment for c. A course without lessons is complete
// from the moment of enrollment.
func New(studentID int64, c *course.Course, now time.Time) *Enrollment {
	e := &Enrollment{
		StudentID:        studentID,
		CourseID:         c.ID,
		CompletedLessons: NewLessonSet(),
		EnrolledAt:       now,
		UpdatedAt:        now,
	}
	if c.LessonCount() == 0 {
		e.CompletedAt = sql.NullTime{Time: now, Valid: true}
	}
	return e
}

func (e *Enrollment) State() State {
	if e.CompletedAt.Valid {
		return StateCompleted
	}
	return StateActive
}

// CompleteLesson records lessonID as completed. It returns true only when
// this call moved the enrollment from Active to Completed. Completing a lesson
// twice is a no-op.
func (e *Enrollment) CompleteLesson(c *course.Course, lessonID int64, timeSpent time.Duration, now time.Time) (bool, error) {
	if c.ID != e.CourseID {
		return false, ErrCourseMismatch
	}
	if !c.HasLesson(lessonID) {
		return false, ErrUnknownLesson
	}
	if e.CompletedLessons == nil {
		e.CompletedLessons = NewLessonSet()
	}
	if e.CompletedLessons.Has(lessonID) {
		return false, nil
	}

	e.CompletedLessons[lessonID] = struct{}{}
	if timeSpent > 0 {
		e.TimeSpent += timeSpent
	}
	e.UpdatedAt = now

	if e.State() == StateActive && e.covers(c) {
		e.CompletedAt = sql.NullTime{Time: now, Valid: true}
		return true, nil
	}
	return false, nil
}

// IsComplete reports whether every lesson of c has been completed.
func (e *Enrollment) IsComplete(c *course.Course) bool {
	return e.State() == StateCompleted || e.covers(c)
}

func (e *Enrollment) covers(c *course.Course) bool {
	for _, id := range c.LessonIDs {
		if !e.CompletedLessons.Has(id) {
			return false
		}
	}
	return true
}

// Progress derives the progress summary against c.
func (e *Enrollment) Progress(c *course.Course) Progress {
	total := c.LessonCount()
	completed := 0
	for _, id := range c.LessonIDs {
		if e.CompletedLessons.Has(id) {
			completed++
		}
	}
	percent := 100.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}
	return Progress{
		CompletedCount: completed,
		TotalCount:     total,
		Percent:        percent,
		IsComplete:     e.IsComplete(c),
	}
}
