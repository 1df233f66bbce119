package api

import (
	"net/http"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/domain/model"
)

type attendancePage struct {
	Records []model.AttendanceRecord `json:"records"`
	Count   int                      `json:"count"`
}

// handleAttendanceConfig handles GET /attendance/config.
func (s *Server) handleAttendanceConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.portal.AttendanceSettings())
}

// handleCheckAttendance handles POST /attendance/check. An ineligible
// verdict is a normal 200 answer here; only marking refuses with 403.
func (s *Server) handleCheckAttendance(w http.ResponseWriter, r *http.Request) {
	const op = "api.check_attendance"
	var req service.AttendanceRequest
	if err := s.decodeJSON(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.portal.CheckAttendance(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleMarkAttendance handles POST /attendance.
func (s *Server) handleMarkAttendance(w http.ResponseWriter, r *http.Request) {
	const op = "api.mark_attendance"
	teacher, _ := TeacherFrom(r.Context())
	var req service.AttendanceRequest
	if err := s.decodeJSON(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.portal.MarkAttendance(r.Context(), teacher.ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleTodayAttendance handles GET /attendance/today.
func (s *Server) handleTodayAttendance(w http.ResponseWriter, r *http.Request) {
	teacher, _ := TeacherFrom(r.Context())
	rec, err := s.portal.TodayAttendance(r.Context(), teacher.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListAttendance handles GET /attendance?from=&to=.
func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	teacher, _ := TeacherFrom(r.Context())
	q := r.URL.Query()
	recs, err := s.portal.ListAttendance(r.Context(), teacher.ID, q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, attendancePage{Records: recs, Count: len(recs)})
}
