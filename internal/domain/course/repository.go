package course

import (
	"context"
	"errors"
)

var ErrCourseNotFound = errors.New("course not found")

// Repository defines read access to published courses. Courses are authored
// elsewhere; this service never writes them.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Course, error)
}
