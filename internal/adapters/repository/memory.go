package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/metrics"
)

type resultKey struct {
	gr   string
	exam string
	year string
}

func keyOf(r *model.Result) resultKey {
	return resultKey{gr: model.NormalizeGR(r.GRNumber), exam: r.Exam, year: r.AcademicYear}
}

type attendanceKey struct {
	teacherID string
	date      string
}

// MemoryStore keeps all state in maps guarded by one RWMutex.
// It is the default backend and the one used by tests.
type MemoryStore struct {
	opts options

	mu         sync.RWMutex
	results    map[string]*model.Result
	resultIDs  map[resultKey]string
	attendance map[attendanceKey]*model.AttendanceRecord
	teachers   map[string]*model.Teacher
	byUsername map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		opts:       o,
		results:    make(map[string]*model.Result),
		resultIDs:  make(map[resultKey]string),
		attendance: make(map[attendanceKey]*model.AttendanceRecord),
		teachers:   make(map[string]*model.Teacher),
		byUsername: make(map[string]string),
	}
}

func observe(backend, op string, start time.Time) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
}

// Backend implements Store.
func (s *MemoryStore) Backend() string { return BackendMemory }

// EnsureSchema is a no-op for memory.
func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Counts implements Store.
func (s *MemoryStore) Counts(context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{Results: len(s.results), Attendance: len(s.attendance), Teachers: len(s.teachers)}, nil
}

// UpsertResult implements ResultStore.
func (s *MemoryStore) UpsertResult(_ context.Context, r *model.Result) error {
	defer observe(BackendMemory, "upsert_result", time.Now())
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrInvalidRecord)
	}
	r.GRNumber = model.NormalizeGR(r.GRNumber)
	key := keyOf(r)
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.resultIDs[key]; ok {
		prev := s.results[id]
		r.ID = id
		r.CreatedAt = prev.CreatedAt
	} else {
		r.ID = s.opts.newID()
		r.CreatedAt = now
		s.resultIDs[key] = r.ID
	}
	r.UpdatedAt = now

	stored := cloneResult(r)
	s.results[r.ID] = &stored
	return nil
}

// LookupResult implements ResultStore.
func (s *MemoryStore) LookupResult(_ context.Context, q model.ResultQuery) (model.Result, error) {
	defer observe(BackendMemory, "lookup_result", time.Now())
	gr := model.NormalizeGR(q.GRNumber)
	if gr == "" {
		return model.Result{}, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*model.Result
	for _, r := range s.results {
		if r.GRNumber != gr || r.DateOfBirth != q.DateOfBirth {
			continue
		}
		if q.Exam != "" && !strings.EqualFold(r.Exam, q.Exam) {
			continue
		}
		if q.AcademicYear != "" && r.AcademicYear != q.AcademicYear {
			continue
		}
		matches = append(matches, r)
	}
	if len(matches) == 0 {
		return model.Result{}, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return latestFirst(matches[i], matches[j]) })
	return cloneResult(matches[0]), nil
}

// ListResults implements ResultStore.
func (s *MemoryStore) ListResults(_ context.Context, q model.ResultQuery) ([]model.Result, error) {
	defer observe(BackendMemory, "list_results", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Result, 0)
	for _, r := range s.results {
		if q.Standard != "" && r.Standard != q.Standard {
			continue
		}
		if q.Exam != "" && r.Exam != q.Exam {
			continue
		}
		if q.AcademicYear != "" && r.AcademicYear != q.AcademicYear {
			continue
		}
		if q.GRNumber != "" && r.GRNumber != model.NormalizeGR(q.GRNumber) {
			continue
		}
		out = append(out, cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return classOrder(&out[i], &out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// SetRanks implements ResultStore. Unknown ids are ignored.
func (s *MemoryStore) SetRanks(_ context.Context, ranks map[string]int) error {
	defer observe(BackendMemory, "set_ranks", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rank := range ranks {
		if r, ok := s.results[id]; ok {
			r.Rank = rank
		}
	}
	return nil
}

// DeleteResult implements ResultStore.
func (s *MemoryStore) DeleteResult(_ context.Context, id string) (model.Result, error) {
	defer observe(BackendMemory, "delete_result", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return model.Result{}, ErrNotFound
	}
	delete(s.resultIDs, keyOf(r))
	delete(s.results, id)
	return cloneResult(r), nil
}

// CreateAttendance implements AttendanceStore.
func (s *MemoryStore) CreateAttendance(_ context.Context, rec *model.AttendanceRecord) error {
	defer observe(BackendMemory, "create_attendance", time.Now())
	if rec == nil || rec.TeacherID == "" || rec.Date == "" {
		return fmt.Errorf("%w: attendance needs teacher and date", ErrInvalidRecord)
	}
	key := attendanceKey{teacherID: rec.TeacherID, date: rec.Date}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attendance[key]; ok {
		return ErrAlreadyMarked
	}
	if rec.ID == "" {
		rec.ID = s.opts.newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.now()
	}
	stored := *rec
	s.attendance[key] = &stored
	return nil
}

// GetAttendance implements AttendanceStore.
func (s *MemoryStore) GetAttendance(_ context.Context, teacherID, date string) (model.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.attendance[attendanceKey{teacherID: teacherID, date: date}]
	if !ok {
		return model.AttendanceRecord{}, ErrNotFound
	}
	return *rec, nil
}

// ListAttendance implements AttendanceStore.
func (s *MemoryStore) ListAttendance(_ context.Context, teacherID, from, to string) ([]model.AttendanceRecord, error) {
	defer observe(BackendMemory, "list_attendance", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AttendanceRecord, 0)
	for k, rec := range s.attendance {
		if k.teacherID != teacherID {
			continue
		}
		if from != "" && k.date < from {
			continue
		}
		if to != "" && k.date > to {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// CreateTeacher implements TeacherStore.
func (s *MemoryStore) CreateTeacher(_ context.Context, t *model.Teacher) error {
	if t == nil || strings.TrimSpace(t.Username) == "" {
		return fmt.Errorf("%w: teacher needs a username", ErrInvalidRecord)
	}
	username := strings.ToLower(strings.TrimSpace(t.Username))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[username]; ok {
		return ErrAlreadyExists
	}
	if t.ID == "" {
		t.ID = s.opts.newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.opts.now()
	}
	t.Username = username
	stored := *t
	s.teachers[t.ID] = &stored
	s.byUsername[username] = t.ID
	return nil
}

// TeacherByUsername implements TeacherStore.
func (s *MemoryStore) TeacherByUsername(_ context.Context, username string) (model.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return model.Teacher{}, ErrNotFound
	}
	return *s.teachers[id], nil
}

// TeacherByID implements TeacherStore.
func (s *MemoryStore) TeacherByID(_ context.Context, id string) (model.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teachers[id]
	if !ok {
		return model.Teacher{}, ErrNotFound
	}
	return *t, nil
}

func cloneResult(r *model.Result) model.Result {
	out := *r
	out.Subjects = append([]model.SubjectMark(nil), r.Subjects...)
	return out
}

// latestFirst orders by academic year desc, then most recently updated.
func latestFirst(a, b *model.Result) bool {
	if a.AcademicYear != b.AcademicYear {
		return a.AcademicYear > b.AcademicYear
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// classOrder orders by standard, exam, year, then rank with unranked last.
func classOrder(a, b *model.Result) bool {
	if a.Standard != b.Standard {
		return a.Standard < b.Standard
	}
	if a.Exam != b.Exam {
		return a.Exam < b.Exam
	}
	if a.AcademicYear != b.AcademicYear {
		return a.AcademicYear < b.AcademicYear
	}
	if a.Rank != b.Rank {
		if a.Rank == 0 || b.Rank == 0 {
			return b.Rank == 0
		}
		return a.Rank < b.Rank
	}
	return a.GRNumber < b.GRNumber
}
