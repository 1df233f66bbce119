package grading

import "errors"

// Sentinel errors for marksheet validation.
var (
	ErrNoSubjects   = errors.New("result has no subjects")
	ErrInvalidMarks = errors.New("invalid marks")
)
