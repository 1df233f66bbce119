package model

import (
	"time"

	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/geo"
)

// AttendanceRecord is one teacher's attendance for one local date.
// (TeacherID, Date) is unique.
type AttendanceRecord struct {
	ID            string            `json:"id" yaml:"id"`
	TeacherID     string            `json:"teacher_id" yaml:"teacher_id"`
	Date          string            `json:"date" yaml:"date"`
	Status        attendance.Status `json:"status" yaml:"status"`
	Location      *geo.Coordinate   `json:"location,omitempty" yaml:"location,omitempty"`
	Geohash       string            `json:"geohash,omitempty" yaml:"geohash,omitempty"`
	DistanceKm    *float64          `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
	Reason        attendance.Reason `json:"reason" yaml:"reason"`
	LocationError string            `json:"location_error,omitempty" yaml:"location_error,omitempty"`
	Remarks       string            `json:"remarks,omitempty" yaml:"remarks,omitempty"`
	CreatedAt     time.Time         `json:"created_at" yaml:"created_at"`
}

// Teacher is an administrator allowed to upload results and mark attendance.
type Teacher struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
