package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/auth"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/geo"
	"github.com/okian/resultportal/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var (
	ist    = time.FixedZone("IST", 5*3600+1800)
	school = geo.New(attendance.DefaultReferenceLat, attendance.DefaultReferenceLon)
	// About 50 m north of the school gate.
	nearby = geo.New(attendance.DefaultReferenceLat+0.00045, attendance.DefaultReferenceLon)
	// About 23 km away.
	city = geo.New(23.0225, 72.5714)
)

const adminPassword = "pa55word"

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T, c *clock, opts ...service.Option) *service.Service {
	t.Helper()
	hash, err := auth.HashPassword(adminPassword)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokens("test-secret", "resultportal", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	base := []service.Option{
		service.WithTokens(tokens),
		service.WithAdmin(service.Admin{Username: "admin", Name: "Head Teacher", PasswordHash: hash}),
		service.WithLocation(ist),
		service.WithClock(c.now),
		service.WithWorkerCount(2),
		service.WithLogger(logger.Nop()),
	}
	return service.New(append(base, opts...)...)
}

func TestService_Login(t *testing.T) {
	Convey("Given a started service with a bootstrapped admin", t, func() {
		ctx := context.Background()
		svc := newService(t, &clock{t: time.Now()})
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When the admin logs in", func() {
			res, err := svc.Login(ctx, " admin ", adminPassword)

			Convey("Then a token for the admin is issued", func() {
				So(err, ShouldBeNil)
				So(res.Token, ShouldNotBeBlank)
				So(res.Teacher.Username, ShouldEqual, "admin")

				teacher, err := svc.Authenticate(ctx, res.Token)
				So(err, ShouldBeNil)
				So(teacher.ID, ShouldEqual, res.Teacher.ID)
			})
		})

		Convey("When credentials are wrong", func() {
			_, errPass := svc.Login(ctx, "admin", "nope")
			_, errUser := svc.Login(ctx, "ghost", adminPassword)
			_, errEmpty := svc.Login(ctx, "", "")

			Convey("Then both failures look the same", func() {
				So(errors.Is(errPass, service.ErrUnauthorized), ShouldBeTrue)
				So(errors.Is(errUser, service.ErrUnauthorized), ShouldBeTrue)
				So(errors.Is(errEmpty, service.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When a forged token is presented", func() {
			_, err := svc.Authenticate(ctx, "eyJhbGciOiJIUzI1NiJ9.e30.bad")
			So(errors.Is(err, service.ErrUnauthorized), ShouldBeTrue)
		})

		Convey("When the service is started twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			stats := svc.GetStats(ctx)
			So(stats["teachers"], ShouldEqual, 1)
		})
	})
}

func TestService_Attendance(t *testing.T) {
	Convey("Given a teacher signed in late at night UTC", t, func() {
		ctx := context.Background()
		c := &clock{t: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
		svc := newService(t, c)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		login, err := svc.Login(ctx, "admin", adminPassword)
		So(err, ShouldBeNil)
		teacherID := login.Teacher.ID

		Convey("When asking for today's date", func() {
			Convey("Then the configured timezone decides it", func() {
				So(svc.Today(), ShouldEqual, "2026-06-02")
				So(svc.AttendanceSettings().MaxDistanceKm, ShouldEqual, attendance.DefaultMaxDistanceKm)
			})
		})

		Convey("When previewing from the city with a location error echoed", func() {
			res, err := svc.CheckAttendance(ctx, service.AttendanceRequest{Status: "present", Location: &city, LocationError: "TIMEOUT"})

			Convey("Then the verdict is out of range and nothing is stored", func() {
				So(err, ShouldBeNil)
				So(res.Verdict.Eligible, ShouldBeFalse)
				So(res.Verdict.Reason, ShouldEqual, attendance.ReasonOutOfRange)
				So(res.LocationError, ShouldEqual, "timeout")
				_, err := svc.TodayAttendance(ctx, teacherID)
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When marking present from near the school", func() {
			rec, err := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "present", Location: &nearby, Remarks: " on time "})

			Convey("Then the record carries distance and geohash", func() {
				So(err, ShouldBeNil)
				So(rec.Date, ShouldEqual, "2026-06-02")
				So(*rec.DistanceKm, ShouldBeLessThan, 0.2)
				So(len(rec.Geohash), ShouldEqual, 9)
				So(rec.Remarks, ShouldEqual, "on time")

				today, err := svc.TodayAttendance(ctx, teacherID)
				So(err, ShouldBeNil)
				So(today.ID, ShouldEqual, rec.ID)
			})

			Convey("Then a second mark the same day conflicts", func() {
				_, err := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "leave"})
				So(errors.Is(err, service.ErrAlreadyMarked), ShouldBeTrue)
			})

			Convey("Then the next day is free again", func() {
				c.t = c.t.Add(24 * time.Hour)
				_, err := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "leave"})
				So(err, ShouldBeNil)
				list, err := svc.ListAttendance(ctx, teacherID, "2026-06-01", "")
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 2)
				So(list[0].Status, ShouldEqual, attendance.Leave)
			})
		})

		Convey("When marking present without a location", func() {
			_, err := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "present", LocationError: "permission_denied"})

			Convey("Then the refusal carries the verdict", func() {
				var inel *service.IneligibleError
				So(errors.As(err, &inel), ShouldBeTrue)
				So(errors.Is(err, service.ErrNotEligible), ShouldBeTrue)
				So(inel.Verdict.Reason, ShouldEqual, attendance.ReasonLocationMissing)
				So(inel.Verdict.Measured, ShouldBeFalse)
			})
		})

		Convey("When marking absent from the city", func() {
			_, err := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "absent", Location: &city})

			Convey("Then it is refused with the distance", func() {
				var inel *service.IneligibleError
				So(errors.As(err, &inel), ShouldBeTrue)
				So(inel.Verdict.DistanceKm, ShouldBeGreaterThan, 20)
				So(err.Error(), ShouldContainSubstring, "out_of_range")
			})
		})

		Convey("When marking leave from the city", func() {
			rec, err := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "Leave", Location: &city})

			Convey("Then verification is bypassed and no distance is stored", func() {
				So(err, ShouldBeNil)
				So(rec.Reason, ShouldEqual, attendance.ReasonBypassed)
				So(rec.DistanceKm, ShouldBeNil)
				So(rec.Location, ShouldNotBeNil)
			})
		})

		Convey("When remarks are written in a multi-byte script", func() {
			fits := strings.Repeat("ક", 500)
			_, errLong := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "leave", Remarks: fits + "ક"})
			rec, err := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "leave", Remarks: fits})

			Convey("Then the limit counts characters, not bytes", func() {
				So(errors.Is(errLong, service.ErrInvalidInput), ShouldBeTrue)
				So(err, ShouldBeNil)
				So(rec.Remarks, ShouldEqual, fits)
			})
		})

		Convey("When input is malformed", func() {
			bad := geo.New(95, 0)
			_, errStatus := svc.CheckAttendance(ctx, service.AttendanceRequest{Status: "late"})
			_, errLoc := svc.MarkAttendance(ctx, teacherID, service.AttendanceRequest{Status: "present", Location: &bad})
			_, errRange := svc.ListAttendance(ctx, teacherID, "2026-06-05", "2026-06-01")
			_, errNoTeacher := svc.MarkAttendance(ctx, "", service.AttendanceRequest{Status: "present", Location: &school})

			Convey("Then each is rejected with a typed error", func() {
				So(errors.Is(errStatus, service.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errStatus, attendance.ErrUnknownStatus), ShouldBeTrue)
				So(errors.Is(errLoc, service.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errLoc, geo.ErrInvalidCoordinate), ShouldBeTrue)
				So(errors.Is(errRange, service.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errNoTeacher, service.ErrUnauthorized), ShouldBeTrue)
			})
		})
	})
}

func TestService_CustomPolicy(t *testing.T) {
	Convey("Given a service with a wide radius", t, func() {
		ctx := context.Background()
		policy, err := attendance.NewPolicy(attendance.WithMaxDistanceKm(50))
		So(err, ShouldBeNil)
		svc := newService(t, &clock{t: time.Now()}, service.WithPolicy(policy))

		Convey("When previewing from the city", func() {
			res, err := svc.CheckAttendance(ctx, service.AttendanceRequest{Status: "half_day", Location: &city})

			Convey("Then it is eligible", func() {
				So(err, ShouldBeNil)
				So(res.Verdict.Eligible, ShouldBeTrue)
				So(res.MaxDistanceKm, ShouldEqual, 50)
			})
		})
	})
}
