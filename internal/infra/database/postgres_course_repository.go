package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"course_rewards/internal/domain/course"

	"github.com/lib/pq"
)

type PostgresCourseRepository struct {
	db *sql.DB
}

func NewPostgresCourseRepository(db *sql.DB) *PostgresCourseRepository {
	return &PostgresCourseRepository{db: db}
}

// GetByID loads the course with its lessons in presentation order.
func (r *PostgresCourseRepository) GetByID(ctx context.Context, id int64) (*course.Course, error) {
	query := `SELECT c.id, c.title, c.token_reward, c.published_at,
                     COALESCE(array_agg(l.lesson_id ORDER BY l.position) FILTER (WHERE l.lesson_id IS NOT NULL), '{}')
               FROM courses c
               LEFT JOIN course_lessons l ON l.course_id = c.id
               WHERE c.id = $1
               GROUP BY c.id`
	c := &course.Course{}
	var lessons pq.Int64Array
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Title, &c.TokenReward, &c.PublishedAt, &lessons)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, course.ErrCourseNotFound
		}
		return nil, fmt.Errorf("error getting course by ID: %w", err)
	}
	c.LessonIDs = []int64(lessons)
	return c, nil
}
