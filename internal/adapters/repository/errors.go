package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyMarked = errors.New("attendance already marked for this date")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidRecord = errors.New("invalid record")
)
