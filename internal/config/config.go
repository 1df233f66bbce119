// Package config defines service configuration and its loading hooks.
//
// Conventions:
// - New() returns defaults; Load(ctx) layers a YAML file and env vars on top.
// - Validation errors wrap ErrInvalidConfig, loading errors wrap ErrLoadConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/geo"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

const (
	minGeohashPrecision = 1
	maxGeohashPrecision = 12
	// HS256 keys shorter than the hash output are trivially weak.
	minJWTSecretLen = 32
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Storage selects memory or postgres.
	Storage     string `koanf:"storage"`
	DatabaseURL string `koanf:"database_url"`
	DBMaxOpen   int    `koanf:"db_max_open_conns"`

	// Attendance proximity check.
	AttendanceReferenceLat     float64 `koanf:"attendance_reference_lat"`
	AttendanceReferenceLon     float64 `koanf:"attendance_reference_lon"`
	AttendanceMaxDistanceKm    float64 `koanf:"attendance_max_distance_km"`
	AttendanceGeohashPrecision int     `koanf:"attendance_geohash_precision"`

	// Result import pipeline.
	ImportQueueSize  int `koanf:"import_queue_size"`
	ImportWorkers    int `koanf:"import_workers"`
	ImportDedupeSize int `koanf:"import_dedupe_size"`

	// Teacher authentication. JWTSecret has no default and must be at
	// least 32 bytes.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTIssuer         string `koanf:"jwt_issuer"`
	TokenTTLMinutes   int    `koanf:"token_ttl_minutes"`
	AdminUsername     string `koanf:"admin_username"`
	AdminPasswordHash string `koanf:"admin_password_hash"`
	AdminName         string `koanf:"admin_name"`

	// Timezone decides which calendar date an attendance mark belongs to.
	Timezone string `koanf:"timezone"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                   "info",
		LogFormat:                  "text",
		Addr:                       ":9080",
		Storage:                    StorageMemory,
		DBMaxOpen:                  10,
		AttendanceReferenceLat:     attendance.DefaultReferenceLat,
		AttendanceReferenceLon:     attendance.DefaultReferenceLon,
		AttendanceMaxDistanceKm:    attendance.DefaultMaxDistanceKm,
		AttendanceGeohashPrecision: 9,
		ImportQueueSize:            1_000,
		ImportWorkers:              runtime.NumCPU(),
		ImportDedupeSize:           10_000,
		JWTIssuer:                  "resultportal",
		TokenTTLMinutes:            12 * 60,
		AdminUsername:              "admin",
		AdminName:                  "Administrator",
		Timezone:                   "Asia/Kolkata",
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Storage != StorageMemory && c.Storage != StoragePostgres:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	case c.Storage == StoragePostgres && strings.TrimSpace(c.DatabaseURL) == "":
		return fmt.Errorf("%w: database_url is required for postgres storage", ErrInvalidConfig)
	case c.AttendanceMaxDistanceKm <= 0:
		return fmt.Errorf("%w: attendance_max_distance_km must be positive", ErrInvalidConfig)
	case c.AttendanceGeohashPrecision < minGeohashPrecision || c.AttendanceGeohashPrecision > maxGeohashPrecision:
		return fmt.Errorf("%w: attendance_geohash_precision must be within 1..12", ErrInvalidConfig)
	case strings.TrimSpace(c.JWTSecret) == "":
		return fmt.Errorf("%w: jwt_secret must be set (PORTAL_JWT_SECRET)", ErrInvalidConfig)
	case len(c.JWTSecret) < minJWTSecretLen:
		return fmt.Errorf("%w: jwt_secret must be at least %d bytes", ErrInvalidConfig, minJWTSecretLen)
	case c.TokenTTLMinutes <= 0:
		return fmt.Errorf("%w: token_ttl_minutes must be positive", ErrInvalidConfig)
	}
	if err := c.Reference().Validate(); err != nil {
		return fmt.Errorf("%w: attendance reference: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Reference returns the configured school coordinate.
func (c *Config) Reference() geo.Coordinate {
	return geo.New(c.AttendanceReferenceLat, c.AttendanceReferenceLon)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// TokenTTL returns the token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}
