package config_test

import (
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/okian/resultportal/internal/config"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/smartystreets/goconvey/convey"
)

var testSecret = strings.Repeat("k", 32)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Storage, convey.ShouldEqual, config.StorageMemory)
			convey.So(cfg.ImportQueueSize, convey.ShouldEqual, 1_000)
			convey.So(cfg.ImportWorkers, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.AttendanceMaxDistanceKm, convey.ShouldEqual, attendance.DefaultMaxDistanceKm)
			convey.So(cfg.Reference().Lat, convey.ShouldEqual, attendance.DefaultReferenceLat)
			convey.So(cfg.TokenTTL(), convey.ShouldEqual, 12*time.Hour)
		})

		convey.Convey("Then it refuses to run without a signing secret", func() {
			convey.So(cfg.JWTSecret, convey.ShouldBeEmpty)
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "jwt_secret")

			cfg.JWTSecret = testSecret
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs that break one rule each", t, func() {
		mutations := map[string]func(*config.Config){
			"empty addr":           func(c *config.Config) { c.Addr = " " },
			"unknown storage":      func(c *config.Config) { c.Storage = "sqlite" },
			"postgres without url": func(c *config.Config) { c.Storage = config.StoragePostgres },
			"zero radius":          func(c *config.Config) { c.AttendanceMaxDistanceKm = 0 },
			"geohash too long":     func(c *config.Config) { c.AttendanceGeohashPrecision = 13 },
			"empty secret":         func(c *config.Config) { c.JWTSecret = "" },
			"guessable secret":     func(c *config.Config) { c.JWTSecret = "change-me" },
			"short secret":         func(c *config.Config) { c.JWTSecret = testSecret[:31] },
			"zero ttl":             func(c *config.Config) { c.TokenTTLMinutes = 0 },
			"reference off globe":  func(c *config.Config) { c.AttendanceReferenceLat = 91 },
			"unknown timezone":     func(c *config.Config) { c.Timezone = "Mars/Olympus" },
		}

		for name, mutate := range mutations {
			cfg := config.New()
			cfg.JWTSecret = testSecret
			mutate(cfg)
			err := cfg.Validate()

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.Printf("%s: %v\n", name, err)
		}

		convey.Convey("When postgres has a url", func() {
			cfg := config.New()
			cfg.JWTSecret = testSecret
			cfg.Storage = config.StoragePostgres
			cfg.DatabaseURL = "postgres://portal@localhost/portal"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
