package service

import (
	"time"

	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/geo"
	"github.com/okian/resultportal/internal/domain/model"
)

// LookupRequest identifies a student for the public result lookup.
type LookupRequest struct {
	GRNumber     string `json:"gr_number" validate:"required"`
	DateOfBirth  string `json:"date_of_birth" validate:"required"`
	Exam         string `json:"exam,omitempty"`
	AcademicYear string `json:"academic_year,omitempty"`
}

// UploadRequest is a batch of marksheets submitted by a teacher.
type UploadRequest struct {
	BatchID    string         `json:"batch_id,omitempty" validate:"max=128"`
	UploadedBy string         `json:"-"`
	Results    []model.Result `json:"results" validate:"min=1"`
}

// UploadReceipt acknowledges an accepted batch.
type UploadReceipt struct {
	JobID   string            `json:"job_id"`
	BatchID string            `json:"batch_id,omitempty"`
	State   model.ImportState `json:"state"`
	Total   int               `json:"total"`
}

// AttendanceRequest is a teacher's attempt to mark or preview attendance.
// LocationError is what the device reported when it could not produce a
// location; it is recorded but never changes the verdict.
type AttendanceRequest struct {
	Status        string          `json:"status" validate:"required"`
	Location      *geo.Coordinate `json:"location,omitempty"`
	LocationError string          `json:"location_error,omitempty" validate:"max=64"`
	Remarks       string          `json:"remarks,omitempty" validate:"max=500"`
}

// CheckResult is the preview returned by CheckAttendance.
type CheckResult struct {
	Status        attendance.Status  `json:"status"`
	Verdict       attendance.Verdict `json:"verdict"`
	LocationError string             `json:"location_error,omitempty"`
	Reference     geo.Coordinate     `json:"reference"`
	MaxDistanceKm float64            `json:"max_distance_km"`
}

// AttendanceSettings describes the active policy for clients.
type AttendanceSettings struct {
	Reference     geo.Coordinate      `json:"reference"`
	MaxDistanceKm float64             `json:"max_distance_km"`
	Timezone      string              `json:"timezone"`
	Today         string              `json:"today"`
	Statuses      []attendance.Status `json:"statuses"`
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Teacher   model.Teacher `json:"teacher"`
}
