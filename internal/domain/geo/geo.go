// Package geo holds the coordinate value type and great-circle distance.
package geo

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// Valid coordinate bounds in degrees.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"latitude" validate:"latitude"`
	Lon float64 `json:"longitude" validate:"longitude"`
}

// New returns a Coordinate. Range is not checked; see Validate.
func New(lat, lon float64) Coordinate {
	return Coordinate{Lat: lat, Lon: lon}
}

// Validate reports whether c lies inside the documented latitude and
// longitude ranges. DistanceKm does not call it.
func (c Coordinate) Validate() error {
	switch {
	case math.IsNaN(c.Lat) || math.IsNaN(c.Lon):
		return fmt.Errorf("%w: NaN component", ErrInvalidCoordinate)
	case c.Lat < MinLatitude || c.Lat > MaxLatitude:
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidCoordinate, c.Lat)
	case c.Lon < MinLongitude || c.Lon > MaxLongitude:
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidCoordinate, c.Lon)
	}
	return nil
}

// Geohash encodes c with the given number of characters (1..12).
func (c Coordinate) Geohash(precision uint) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lon, precision)
}

// FromGeohash decodes the center of a geohash cell.
func FromGeohash(hash string) (Coordinate, error) {
	if err := geohash.Validate(hash); err != nil {
		return Coordinate{}, fmt.Errorf("%w: %v", ErrInvalidGeohash, err)
	}
	lat, lon := geohash.DecodeCenter(hash)
	return Coordinate{Lat: lat, Lon: lon}, nil
}

// String renders c as "lat,lon".
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceKm returns the Haversine great-circle distance between a and b.
func DistanceKm(a, b Coordinate) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*sinLon*sinLon

	// Rounding can push h a hair outside [0, 1].
	h = math.Max(0, math.Min(1, h))

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}
