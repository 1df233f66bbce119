package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	// pgx registers itself as the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/geo"
	"github.com/okian/resultportal/internal/domain/model"
)

const driverName = "pgx"

const resultColumns = `id, gr_number, date_of_birth, student_name, standard, division, exam,
	academic_year, subjects, total_obtained, total_max, percentage, grade, pass, rank,
	uploaded_by, created_at, updated_at`

const attendanceColumns = `id, teacher_id, to_char(date, 'YYYY-MM-DD') AS date, status, latitude,
	longitude, geohash, distance_km, reason, location_error, remarks, created_at`

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(ctx context.Context, dsn string, maxOpen int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// PostgresStore implements Store on top of sqlx.
type PostgresStore struct {
	db   *sqlx.DB
	opts options
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB, opts ...Option) *PostgresStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{db: db, opts: o}
}

type resultRow struct {
	model.Result
	SubjectsJSON []byte `db:"subjects"`
}

func (r resultRow) toModel() (model.Result, error) {
	out := r.Result
	if len(r.SubjectsJSON) > 0 {
		if err := json.Unmarshal(r.SubjectsJSON, &out.Subjects); err != nil {
			return model.Result{}, fmt.Errorf("decode subjects of %s: %w", r.ID, err)
		}
	}
	return out, nil
}

type attendanceRow struct {
	ID            string          `db:"id"`
	TeacherID     string          `db:"teacher_id"`
	Date          string          `db:"date"`
	Status        string          `db:"status"`
	Latitude      sql.NullFloat64 `db:"latitude"`
	Longitude     sql.NullFloat64 `db:"longitude"`
	Geohash       string          `db:"geohash"`
	DistanceKm    sql.NullFloat64 `db:"distance_km"`
	Reason        string          `db:"reason"`
	LocationError string          `db:"location_error"`
	Remarks       string          `db:"remarks"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (r attendanceRow) toModel() model.AttendanceRecord {
	rec := model.AttendanceRecord{
		ID:            r.ID,
		TeacherID:     r.TeacherID,
		Date:          r.Date,
		Status:        attendance.Status(r.Status),
		Geohash:       r.Geohash,
		Reason:        attendance.Reason(r.Reason),
		LocationError: r.LocationError,
		Remarks:       r.Remarks,
		CreatedAt:     r.CreatedAt,
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		c := geo.New(r.Latitude.Float64, r.Longitude.Float64)
		rec.Location = &c
	}
	if r.DistanceKm.Valid {
		d := r.DistanceKm.Float64
		rec.DistanceKm = &d
	}
	return rec
}

// Backend implements Store.
func (s *PostgresStore) Backend() string { return BackendPostgres }

// EnsureSchema implements Store.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, s.db)
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Counts implements Store.
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowxContext(ctx, `SELECT
		(SELECT count(*) FROM results),
		(SELECT count(*) FROM attendance),
		(SELECT count(*) FROM teachers)`).Scan(&c.Results, &c.Attendance, &c.Teachers)
	if err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}

// UpsertResult implements ResultStore.
func (s *PostgresStore) UpsertResult(ctx context.Context, r *model.Result) error {
	defer observe(BackendPostgres, "upsert_result", time.Now())
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrInvalidRecord)
	}
	subjects, err := json.Marshal(r.Subjects)
	if err != nil {
		return fmt.Errorf("encode subjects: %w", err)
	}
	r.GRNumber = model.NormalizeGR(r.GRNumber)
	now := s.opts.now()

	query := `
		INSERT INTO results (
			id, gr_number, date_of_birth, student_name, standard, division, exam, academic_year,
			subjects, total_obtained, total_max, percentage, grade, pass, uploaded_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (gr_number, exam, academic_year) DO UPDATE SET
			date_of_birth = EXCLUDED.date_of_birth,
			student_name = EXCLUDED.student_name,
			standard = EXCLUDED.standard,
			division = EXCLUDED.division,
			subjects = EXCLUDED.subjects,
			total_obtained = EXCLUDED.total_obtained,
			total_max = EXCLUDED.total_max,
			percentage = EXCLUDED.percentage,
			grade = EXCLUDED.grade,
			pass = EXCLUDED.pass,
			uploaded_by = EXCLUDED.uploaded_by,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err = s.db.QueryRowxContext(ctx, query,
		s.opts.newID(), r.GRNumber, r.DateOfBirth, r.StudentName, r.Standard, r.Division, r.Exam, r.AcademicYear,
		string(subjects), r.TotalObtained, r.TotalMax, r.Percentage, r.Grade, r.Pass, r.UploadedBy, now,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert result %s: %w", r.GRNumber, err)
	}
	r.UpdatedAt = now
	return nil
}

// LookupResult implements ResultStore.
func (s *PostgresStore) LookupResult(ctx context.Context, q model.ResultQuery) (model.Result, error) {
	defer observe(BackendPostgres, "lookup_result", time.Now())
	gr := model.NormalizeGR(q.GRNumber)
	if gr == "" {
		return model.Result{}, ErrNotFound
	}

	query := `SELECT ` + resultColumns + ` FROM results
		WHERE gr_number = $1 AND date_of_birth = $2
			AND ($3 = '' OR lower(exam) = lower($3))
			AND ($4 = '' OR academic_year = $4)
		ORDER BY academic_year DESC, updated_at DESC
		LIMIT 1`

	var row resultRow
	if err := s.db.GetContext(ctx, &row, query, gr, q.DateOfBirth, q.Exam, q.AcademicYear); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Result{}, ErrNotFound
		}
		return model.Result{}, fmt.Errorf("lookup result: %w", err)
	}
	return row.toModel()
}

// ListResults implements ResultStore.
func (s *PostgresStore) ListResults(ctx context.Context, q model.ResultQuery) ([]model.Result, error) {
	defer observe(BackendPostgres, "list_results", time.Now())
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("standard", q.Standard)
	add("exam", q.Exam)
	add("academic_year", q.AcademicYear)
	add("gr_number", model.NormalizeGR(q.GRNumber))

	var sb strings.Builder
	sb.WriteString(`SELECT ` + resultColumns + ` FROM results`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY standard, exam, academic_year, rank = 0, rank, gr_number")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	out := make([]model.Result, 0, len(rows))
	for _, row := range rows {
		r, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// SetRanks implements ResultStore. Updates run in one transaction in id order.
func (s *PostgresStore) SetRanks(ctx context.Context, ranks map[string]int) error {
	defer observe(BackendPostgres, "set_ranks", time.Now())
	if len(ranks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(ranks))
	for id := range ranks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set ranks: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE results SET rank = $1 WHERE id = $2`, ranks[id], id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set rank of %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set ranks: %w", err)
	}
	return nil
}

// DeleteResult implements ResultStore.
func (s *PostgresStore) DeleteResult(ctx context.Context, id string) (model.Result, error) {
	defer observe(BackendPostgres, "delete_result", time.Now())
	var r model.Result
	err := s.db.QueryRowxContext(ctx,
		`DELETE FROM results WHERE id = $1 RETURNING id, gr_number, standard, exam, academic_year`, id,
	).Scan(&r.ID, &r.GRNumber, &r.Standard, &r.Exam, &r.AcademicYear)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Result{}, ErrNotFound
		}
		return model.Result{}, fmt.Errorf("delete result: %w", err)
	}
	return r, nil
}

// CreateAttendance implements AttendanceStore.
func (s *PostgresStore) CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error {
	defer observe(BackendPostgres, "create_attendance", time.Now())
	if rec == nil || rec.TeacherID == "" || rec.Date == "" {
		return fmt.Errorf("%w: attendance needs teacher and date", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = s.opts.newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.now()
	}
	var lat, lon, dist sql.NullFloat64
	if rec.Location != nil {
		lat = sql.NullFloat64{Float64: rec.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Location.Lon, Valid: true}
	}
	if rec.DistanceKm != nil {
		dist = sql.NullFloat64{Float64: *rec.DistanceKm, Valid: true}
	}

	query := `
		INSERT INTO attendance (
			id, teacher_id, date, status, latitude, longitude, geohash,
			distance_km, reason, location_error, remarks, created_at
		) VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (teacher_id, date) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TeacherID, rec.Date, string(rec.Status), lat, lon, rec.Geohash,
		dist, string(rec.Reason), rec.LocationError, rec.Remarks, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create attendance: %w", err)
	}
	if n == 0 {
		return ErrAlreadyMarked
	}
	return nil
}

// GetAttendance implements AttendanceStore.
func (s *PostgresStore) GetAttendance(ctx context.Context, teacherID, date string) (model.AttendanceRecord, error) {
	defer observe(BackendPostgres, "get_attendance", time.Now())
	var row attendanceRow
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE teacher_id = $1 AND date = $2::date`
	if err := s.db.GetContext(ctx, &row, query, teacherID, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AttendanceRecord{}, ErrNotFound
		}
		return model.AttendanceRecord{}, fmt.Errorf("get attendance: %w", err)
	}
	return row.toModel(), nil
}

// ListAttendance implements AttendanceStore.
func (s *PostgresStore) ListAttendance(ctx context.Context, teacherID, from, to string) ([]model.AttendanceRecord, error) {
	defer observe(BackendPostgres, "list_attendance", time.Now())
	query := `SELECT ` + attendanceColumns + ` FROM attendance
		WHERE teacher_id = $1
			AND ($2 = '' OR date >= NULLIF($2, '')::date)
			AND ($3 = '' OR date <= NULLIF($3, '')::date)
		ORDER BY date DESC`

	var rows []attendanceRow
	if err := s.db.SelectContext(ctx, &rows, query, teacherID, from, to); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	out := make([]model.AttendanceRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// CreateTeacher implements TeacherStore.
func (s *PostgresStore) CreateTeacher(ctx context.Context, t *model.Teacher) error {
	if t == nil || strings.TrimSpace(t.Username) == "" {
		return fmt.Errorf("%w: teacher needs a username", ErrInvalidRecord)
	}
	t.Username = strings.ToLower(strings.TrimSpace(t.Username))
	if t.ID == "" {
		t.ID = s.opts.newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.opts.now()
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO teachers (id, username, name, password_hash, created_at)
		VALUES (:id, :username, :name, :password_hash, :created_at)
		ON CONFLICT (username) DO NOTHING`, t)
	if err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// TeacherByUsername implements TeacherStore.
func (s *PostgresStore) TeacherByUsername(ctx context.Context, username string) (model.Teacher, error) {
	return s.teacherWhere(ctx, "username", strings.ToLower(strings.TrimSpace(username)))
}

// TeacherByID implements TeacherStore.
func (s *PostgresStore) TeacherByID(ctx context.Context, id string) (model.Teacher, error) {
	return s.teacherWhere(ctx, "id", id)
}

func (s *PostgresStore) teacherWhere(ctx context.Context, column, value string) (model.Teacher, error) {
	var t model.Teacher
	query := `SELECT id, username, name, password_hash, created_at FROM teachers WHERE ` + column + ` = $1`
	if err := s.db.GetContext(ctx, &t, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Teacher{}, ErrNotFound
		}
		return model.Teacher{}, fmt.Errorf("find teacher: %w", err)
	}
	return t, nil
}
