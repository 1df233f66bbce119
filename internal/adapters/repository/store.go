// Package repository defines the portal store interfaces and their backends.
package repository

import (
	"context"

	"github.com/okian/resultportal/internal/domain/model"
)

// Backend names reported by Store.Backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// ResultStore persists marksheets.
type ResultStore interface {
	// UpsertResult inserts r or replaces the row with the same
	// (gr_number, exam, academic_year). ID and CreatedAt of an existing
	// row are kept and written back into r.
	UpsertResult(ctx context.Context, r *model.Result) error

	// LookupResult returns the latest result for q.GRNumber whose date of
	// birth equals q.DateOfBirth. Exam and AcademicYear narrow the match.
	// Returns ErrNotFound when nothing matches.
	LookupResult(ctx context.Context, q model.ResultQuery) (model.Result, error)

	// ListResults returns results ordered by class then rank.
	ListResults(ctx context.Context, q model.ResultQuery) ([]model.Result, error)

	// SetRanks overwrites the rank of each result id in ranks.
	SetRanks(ctx context.Context, ranks map[string]int) error

	// DeleteResult removes a result by id and returns its class fields.
	// Returns ErrNotFound if absent.
	DeleteResult(ctx context.Context, id string) (model.Result, error)
}

// AttendanceStore persists teacher attendance marks.
type AttendanceStore interface {
	// CreateAttendance stores rec. Returns ErrAlreadyMarked when the
	// teacher already has a record for rec.Date.
	CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error

	// GetAttendance returns the record of teacherID on date.
	GetAttendance(ctx context.Context, teacherID, date string) (model.AttendanceRecord, error)

	// ListAttendance returns records of teacherID with from <= date <= to,
	// newest first. Empty bounds are open.
	ListAttendance(ctx context.Context, teacherID, from, to string) ([]model.AttendanceRecord, error)
}

// TeacherStore persists teacher accounts.
type TeacherStore interface {
	// CreateTeacher stores t. Returns ErrAlreadyExists on a username clash.
	CreateTeacher(ctx context.Context, t *model.Teacher) error
	TeacherByUsername(ctx context.Context, username string) (model.Teacher, error)
	TeacherByID(ctx context.Context, id string) (model.Teacher, error)
}

// Counts summarizes stored rows.
type Counts struct {
	Results    int `json:"results"`
	Attendance int `json:"attendance"`
	Teachers   int `json:"teachers"`
}

// Store provides read/write access to all portal state.
type Store interface {
	ResultStore
	AttendanceStore
	TeacherStore

	// EnsureSchema prepares the backend for use.
	EnsureSchema(ctx context.Context) error
	// Counts returns row counts per table.
	Counts(ctx context.Context) (Counts, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Backend names the implementation.
	Backend() string
	Close() error
}
