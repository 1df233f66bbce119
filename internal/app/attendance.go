package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/okian/resultportal/internal/adapters/repository"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/logger"
	"github.com/okian/resultportal/pkg/metrics"
)

// Known client location failures. Anything else is stored as "unknown".
var locationErrors = map[string]struct{}{
	"permission_denied":    {},
	"position_unavailable": {},
	"timeout":              {},
	"unsupported":          {},
}

const maxRemarksLen = 500

// Today returns the current local date in the configured timezone.
func (s *Service) Today() string {
	return s.now().In(s.location).Format(model.DateLayout)
}

// evaluate parses and validates req then applies the policy.
func (s *Service) evaluate(ctx context.Context, req *AttendanceRequest) (attendance.Status, attendance.Verdict, string, error) {
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		return "", attendance.Verdict{}, "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			return "", attendance.Verdict{}, "", fmt.Errorf("%w: location: %w", ErrInvalidInput, err)
		}
	}

	locErr := strings.ToLower(strings.TrimSpace(req.LocationError))
	if locErr != "" {
		if _, known := locationErrors[locErr]; !known {
			locErr = "unknown"
		}
		s.log().Warn(ctx, "client could not determine location",
			logger.String("status", string(status)),
			logger.String("location_error", locErr),
		)
	}

	verdict := s.policy.Evaluate(status, req.Location)
	metrics.RecordAttendanceEvaluation(string(status), string(verdict.Reason))
	if d, ok := verdict.Distance(); ok {
		metrics.RecordAttendanceDistance(d)
	}
	return status, verdict, locErr, nil
}

// CheckAttendance previews the verdict for req without storing anything.
func (s *Service) CheckAttendance(ctx context.Context, req AttendanceRequest) (CheckResult, error) { //nolint:gocritic // hugeParam
	status, verdict, locErr, err := s.evaluate(ctx, &req)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		Status:        status,
		Verdict:       verdict,
		LocationError: locErr,
		Reference:     s.policy.Reference(),
		MaxDistanceKm: s.policy.MaxDistanceKm(),
	}, nil
}

// MarkAttendance stores today's attendance for teacherID when the policy
// allows it. Refusals return *IneligibleError; a second mark on the same
// local date returns ErrAlreadyMarked.
func (s *Service) MarkAttendance(ctx context.Context, teacherID string, req AttendanceRequest) (model.AttendanceRecord, error) { //nolint:gocritic // hugeParam
	if teacherID == "" {
		return model.AttendanceRecord{}, ErrUnauthorized
	}
	remarks := strings.TrimSpace(req.Remarks)
	if utf8.RuneCountInString(remarks) > maxRemarksLen {
		return model.AttendanceRecord{}, invalid("remarks longer than %d characters", maxRemarksLen)
	}

	status, verdict, locErr, err := s.evaluate(ctx, &req)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if !verdict.Eligible {
		s.log().Info(ctx, "attendance refused",
			logger.String("teacher_id", teacherID),
			logger.String("reason", string(verdict.Reason)),
			logger.Float64("distance_km", verdict.DistanceKm),
		)
		return model.AttendanceRecord{}, &IneligibleError{Verdict: verdict}
	}

	rec := model.AttendanceRecord{
		TeacherID:     teacherID,
		Date:          s.Today(),
		Status:        status,
		Reason:        verdict.Reason,
		LocationError: locErr,
		Remarks:       remarks,
		CreatedAt:     s.now().UTC(),
	}
	if req.Location != nil {
		loc := *req.Location
		rec.Location = &loc
		rec.Geohash = loc.Geohash(s.geohashPrecision)
	}
	if d, ok := verdict.Distance(); ok {
		rec.DistanceKm = &d
	}

	if err := s.store.CreateAttendance(ctx, &rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyMarked) {
			return model.AttendanceRecord{}, fmt.Errorf("%w: %s", ErrAlreadyMarked, rec.Date)
		}
		return model.AttendanceRecord{}, fmt.Errorf("store attendance: %w", err)
	}
	metrics.RecordAttendanceMarked(string(status))
	s.log().Info(ctx, "attendance marked",
		logger.String("teacher_id", teacherID),
		logger.String("date", rec.Date),
		logger.String("status", string(status)),
	)
	return rec, nil
}

// TodayAttendance returns teacherID's record for the current local date.
func (s *Service) TodayAttendance(ctx context.Context, teacherID string) (model.AttendanceRecord, error) {
	rec, err := s.store.GetAttendance(ctx, teacherID, s.Today())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.AttendanceRecord{}, fmt.Errorf("%w: no attendance today", ErrNotFound)
		}
		return model.AttendanceRecord{}, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// ListAttendance returns teacherID's records between from and to inclusive.
// Empty bounds are open.
func (s *Service) ListAttendance(ctx context.Context, teacherID, from, to string) ([]model.AttendanceRecord, error) {
	var err error
	if from != "" {
		if from, err = model.NormalizeDate(from); err != nil {
			return nil, invalid("from: %v", err)
		}
	}
	if to != "" {
		if to, err = model.NormalizeDate(to); err != nil {
			return nil, invalid("to: %v", err)
		}
	}
	if from != "" && to != "" && from > to {
		return nil, invalid("from %s is after to %s", from, to)
	}
	out, err := s.store.ListAttendance(ctx, teacherID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return out, nil
}

// AttendanceSettings returns the active policy for clients.
func (s *Service) AttendanceSettings() AttendanceSettings {
	return AttendanceSettings{
		Reference:     s.policy.Reference(),
		MaxDistanceKm: s.policy.MaxDistanceKm(),
		Timezone:      s.location.String(),
		Today:         s.Today(),
		Statuses:      attendance.Statuses(),
	}
}
