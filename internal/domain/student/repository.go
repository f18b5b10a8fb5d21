package student

import (
	"context"
	"errors"
)

var ErrStudentNotFound = errors.New("student not found")

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Student, error)
}
