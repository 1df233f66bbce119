// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/logger"
)

const defaultMaxBodyBytes int64 = 4 << 20

// Portal is the application surface the handlers call. *service.Service
// satisfies it.
type Portal interface {
	LookupResult(ctx context.Context, req service.LookupRequest) (model.Result, error)
	SubmitResults(ctx context.Context, req service.UploadRequest) (service.UploadReceipt, error)
	ImportStatus(ctx context.Context, jobID string) (model.ImportJob, error)
	ListResults(ctx context.Context, q model.ResultQuery) ([]model.Result, error)
	DeleteResult(ctx context.Context, id string) error

	CheckAttendance(ctx context.Context, req service.AttendanceRequest) (service.CheckResult, error)
	MarkAttendance(ctx context.Context, teacherID string, req service.AttendanceRequest) (model.AttendanceRecord, error)
	TodayAttendance(ctx context.Context, teacherID string) (model.AttendanceRecord, error)
	ListAttendance(ctx context.Context, teacherID, from, to string) ([]model.AttendanceRecord, error)
	AttendanceSettings() service.AttendanceSettings

	Login(ctx context.Context, username, password string) (service.LoginResult, error)
	Authenticate(ctx context.Context, token string) (model.Teacher, error)

	Backend() string
	Ping(ctx context.Context) error
	Uptime() time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for server-side failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxBodyBytes caps request bodies. Uploads beyond it get 413.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	portal  Portal
	log     logger.Logger
	maxBody int64

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(portal Portal, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		portal:        portal,
		log:           logger.Nop(),
		maxBody:       defaultMaxBodyBytes,
		healthHandler: NewHealthHandler(portal),
		statsHandler:  NewStatsHandler(statsProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /auth/login", MetricsMiddleware(s.handleLogin, "auth_login"))
	mux.HandleFunc("POST /results/lookup", MetricsMiddleware(s.handleLookup, "results_lookup"))

	mux.HandleFunc("GET /attendance/config", MetricsMiddleware(s.handleAttendanceConfig, "attendance_config"))
	mux.HandleFunc("POST /attendance/check", MetricsMiddleware(s.handleCheckAttendance, "attendance_check"))
	mux.HandleFunc("POST /attendance", MetricsMiddleware(s.RequireTeacher(s.handleMarkAttendance), "attendance_mark"))
	mux.HandleFunc("GET /attendance/today", MetricsMiddleware(s.RequireTeacher(s.handleTodayAttendance), "attendance_today"))
	mux.HandleFunc("GET /attendance", MetricsMiddleware(s.RequireTeacher(s.handleListAttendance), "attendance_list"))

	mux.HandleFunc("POST /admin/results", MetricsMiddleware(s.RequireTeacher(s.handleUpload), "admin_upload"))
	mux.HandleFunc("GET /admin/results", MetricsMiddleware(s.RequireTeacher(s.handleListResults), "admin_results"))
	mux.HandleFunc("DELETE /admin/results/{id}", MetricsMiddleware(s.RequireTeacher(s.handleDeleteResult), "admin_delete"))
	mux.HandleFunc("GET /admin/imports/{id}", MetricsMiddleware(s.RequireTeacher(s.handleImportStatus), "admin_import"))
}

type errorResponse struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Verdict *attendance.Verdict `json:"verdict,omitempty"`
	JobID   string              `json:"job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status its kind maps to. Server-side
// failures are logged and their detail withheld from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorResponse{Code: code, Message: err.Error()}

	var inel *service.IneligibleError
	if errors.As(err, &inel) {
		v := inel.Verdict
		body.Verdict = &v
	}
	var dup *service.DuplicateBatchError
	if errors.As(err, &dup) {
		body.JobID = dup.JobID
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err))
		body.Message = http.StatusText(status)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="resultportal"`)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body of at most maxBody bytes into v and checks
// its validate tags.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return WrapKind(op, ErrTooLarge, err)
		case errors.Is(err, io.EOF):
			return WrapKind(op, ErrBadRequest, errors.New("empty body"))
		default:
			return WrapKind(op, ErrBadRequest, err)
		}
	}
	return checkRequest(op, v)
}
