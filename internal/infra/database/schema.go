package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is applied on startup. Students and courses are owned by the
// catalogue; this service only reads them.
const Schema = `
CREATE TABLE IF NOT EXISTS students (
    id BIGSERIAL PRIMARY KEY,
    display_name VARCHAR(255) NOT NULL,
    wallet_address VARCHAR(64),
    telegram_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS courses (
    id BIGSERIAL PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    token_reward BIGINT NOT NULL CHECK (token_reward >= 0),
    published_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS course_lessons (
    course_id BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    lesson_id BIGINT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (course_id, lesson_id)
);

CREATE TABLE IF NOT EXISTS enrollments (
    student_id BIGINT NOT NULL REFERENCES students(id),
    course_id BIGINT NOT NULL REFERENCES courses(id),
    completed_lessons BIGINT[] NOT NULL DEFAULT '{}',
    time_spent_seconds BIGINT NOT NULL DEFAULT 0,
    completed_at TIMESTAMPTZ,
    enrolled_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (student_id, course_id)
);

CREATE INDEX IF NOT EXISTS enrollments_completed_idx ON enrollments (completed_at) WHERE completed_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS reward_records (
    id UUID PRIMARY KEY,
    student_id BIGINT NOT NULL REFERENCES students(id),
    course_id BIGINT NOT NULL REFERENCES courses(id),
    amount BIGINT NOT NULL,
    status VARCHAR(32) NOT NULL,
    tx_hash VARCHAR(80),
    failure_kind VARCHAR(32) NOT NULL DEFAULT '',
    failure_reason TEXT,
    attempts INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    CONSTRAINT reward_records_student_course_unique UNIQUE (student_id, course_id)
);

CREATE INDEX IF NOT EXISTS reward_records_status_updated_idx ON reward_records (status, updated_at);

CREATE TABLE IF NOT EXISTS reward_transitions (
    id BIGSERIAL PRIMARY KEY,
    student_id BIGINT NOT NULL,
    course_id BIGINT NOT NULL,
    from_status VARCHAR(32) NOT NULL DEFAULT '',
    to_status VARCHAR(32) NOT NULL,
    tx_hash VARCHAR(80),
    failure_kind VARCHAR(32) NOT NULL DEFAULT '',
    reason TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    FOREIGN KEY (student_id, course_id) REFERENCES reward_records(student_id, course_id)
);

CREATE INDEX IF NOT EXISTS reward_transitions_pair_idx ON reward_transitions (student_id, course_id, id);
`

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
