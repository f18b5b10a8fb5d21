package course

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourse_HasLesson(t *testing.T) {
	c := &Course{ID: 1, LessonIDs: []int64{4, 2, 9}}
	assert.True(t, c.HasLesson(2))
	assert.False(t, c.HasLesson(3))
	assert.Equal(t, 3, c.LessonCount())
	assert.Equal(t, 0, (&Course{}).LessonCount())
}
