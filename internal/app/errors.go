package service

import (
	"errors"
	"fmt"

	"github.com/okian/resultportal/internal/domain/attendance"
)

// Sentinel error kinds returned by Service. Transport layers map them to
// status codes with errors.Is.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotEligible    = errors.New("not eligible to mark attendance")
	ErrAlreadyMarked  = errors.New("attendance already marked today")
	ErrDuplicateBatch = errors.New("batch already submitted")
	ErrBusy           = errors.New("import queue is full, retry later")
	ErrNotStarted     = errors.New("service not started")
	ErrInvalidSetup   = errors.New("invalid service setup")
)

// IneligibleError carries the verdict that refused an attendance mark.
type IneligibleError struct {
	Verdict attendance.Verdict
}

func (e *IneligibleError) Error() string {
	if e.Verdict.Measured {
		return fmt.Sprintf("%s: %s (%.3f km)", ErrNotEligible, e.Verdict.Reason, e.Verdict.DistanceKm)
	}
	return fmt.Sprintf("%s: %s", ErrNotEligible, e.Verdict.Reason)
}

func (e *IneligibleError) Unwrap() error { return ErrNotEligible }

// DuplicateBatchError names the job created by the first submission.
type DuplicateBatchError struct {
	BatchID string
	JobID   string
}

func (e *DuplicateBatchError) Error() string {
	return fmt.Sprintf("%s: batch %q is job %s", ErrDuplicateBatch, e.BatchID, e.JobID)
}

func (e *DuplicateBatchError) Unwrap() error { return ErrDuplicateBatch }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
