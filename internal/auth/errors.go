package auth

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidSetup       = errors.New("invalid auth setup")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid username or password")
)
