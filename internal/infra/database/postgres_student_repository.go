package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"course_rewards/internal/domain/student"
)

type PostgresStudentRepository struct {
	db *sql.DB
}

func NewPostgresStudentRepository(db *sql.DB) *PostgresStudentRepository {
	return &PostgresStudentRepository{db: db}
}

func (r *PostgresStudentRepository) GetByID(ctx context.Context, id int64) (*student.Student, error) {
	query := `SELECT id, display_name, wallet_address, telegram_id, created_at
               FROM students WHERE id = $1`
	s := &student.Student{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.DisplayName, &s.WalletAddress, &s.TelegramID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, student.ErrStudentNotFound
		}
		return nil, fmt.Errorf("error getting student by ID: %w", err)
	}
	return s, nil
}
