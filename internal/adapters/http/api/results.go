package api

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/domain/model"
)

type resultsPage struct {
	Results []model.Result `json:"results"`
	Count   int            `json:"count"`
}

// handleLookup handles POST /results/lookup.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	const op = "api.lookup_result"
	var req service.LookupRequest
	if err := s.decodeJSON(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.portal.LookupResult(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUpload handles POST /admin/results. The body is either a JSON
// UploadRequest or a text/csv results sheet with the batch id in the
// batch_id query parameter.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "api.upload_results"
	teacher, _ := TeacherFrom(r.Context())

	var req service.UploadRequest
	if isCSV(r.Header.Get("Content-Type")) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		rows, err := model.ReadResultsCSV(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, r, WrapKind(op, ErrTooLarge, err))
				return
			}
			s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
			return
		}
		req = service.UploadRequest{BatchID: r.URL.Query().Get("batch_id"), Results: rows}
		if err := checkRequest(op, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if err := s.decodeJSON(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.UploadedBy = teacher.Username

	receipt, err := s.portal.SubmitResults(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/admin/imports/"+receipt.JobID)
	writeJSON(w, http.StatusAccepted, receipt)
}

func isCSV(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/csv" || mt == "application/csv")
}

// handleImportStatus handles GET /admin/imports/{id}.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.portal.ImportStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListResults handles GET /admin/results.
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_results"
	q := r.URL.Query()
	query := model.ResultQuery{
		Standard:     q.Get("standard"),
		Exam:         q.Get("exam"),
		AcademicYear: q.Get("academic_year"),
		GRNumber:     model.NormalizeGR(q.Get("gr_number")),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("limit must be an integer")))
			return
		}
		query.Limit = n
	}
	rs, err := s.portal.ListResults(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []model.Result{}
	}
	writeJSON(w, http.StatusOK, resultsPage{Results: rs, Count: len(rs)})
}

// handleDeleteResult handles DELETE /admin/results/{id}.
func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	if err := s.portal.DeleteResult(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
