package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements create every table and index idempotently. The last
// statement drops the legacy single-column unique index so the same GR
// number can hold results for several exams.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS teachers (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		id             TEXT PRIMARY KEY,
		gr_number      TEXT NOT NULL,
		date_of_birth  TEXT NOT NULL,
		student_name   TEXT NOT NULL,
		standard       TEXT NOT NULL,
		division       TEXT NOT NULL DEFAULT '',
		exam           TEXT NOT NULL,
		academic_year  TEXT NOT NULL,
		subjects       JSONB NOT NULL DEFAULT '[]',
		total_obtained DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_max      DOUBLE PRECISION NOT NULL DEFAULT 0,
		percentage     DOUBLE PRECISION NOT NULL DEFAULT 0,
		grade          TEXT NOT NULL DEFAULT '',
		pass           BOOLEAN NOT NULL DEFAULT false,
		rank           INTEGER NOT NULL DEFAULT 0,
		uploaded_by    TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS results_gr_exam_year_key
		ON results (gr_number, exam, academic_year)`,
	`CREATE INDEX IF NOT EXISTS results_class_idx
		ON results (standard, exam, academic_year)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id             TEXT PRIMARY KEY,
		teacher_id     TEXT NOT NULL REFERENCES teachers (id) ON DELETE CASCADE,
		date           DATE NOT NULL,
		status         TEXT NOT NULL,
		latitude       DOUBLE PRECISION,
		longitude      DOUBLE PRECISION,
		geohash        TEXT NOT NULL DEFAULT '',
		distance_km    DOUBLE PRECISION,
		reason         TEXT NOT NULL DEFAULT '',
		location_error TEXT NOT NULL DEFAULT '',
		remarks        TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_teacher_date_key
		ON attendance (teacher_id, date)`,
	`ALTER TABLE results DROP CONSTRAINT IF EXISTS results_gr_number_key`,
	`DROP INDEX IF EXISTS results_gr_number_key`,
}

// EnsureSchema applies schemaStatements inside one transaction.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
