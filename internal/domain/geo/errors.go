package geo

import "errors"

// Sentinel errors for coordinate handling.
var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidGeohash    = errors.New("invalid geohash")
)
