package attendance

import "errors"

// Sentinel errors for attendance.
var (
	ErrUnknownStatus = errors.New("unknown attendance status")
	ErrInvalidPolicy = errors.New("invalid attendance policy")
)
