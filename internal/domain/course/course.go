package course

import "time"

// Course is a published course. TokenReward and LessonIDs are treated as
// immutable once published.
type Course struct {
	ID          int64
	Title       string
	TokenReward int64
	LessonIDs   []int64 // ordered as presented to students
	PublishedAt time.Time
}

// HasLesson reports whether lessonID belongs to the course.
func (c *Course) HasLesson(lessonID int64) bool {
	for _, id := range c.LessonIDs {
		if id == lessonID {
			return true
		}
	}
	return false
}

func (c *Course) LessonCount() int {
	return len(c.LessonIDs)
}
