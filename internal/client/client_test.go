package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/resultportal/internal/adapters/http/api"
	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/auth"
	"github.com/okian/resultportal/internal/client"
	"github.com/okian/resultportal/internal/domain/geo"
	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/logger"
)

func startPortal(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	hash, err := auth.HashPassword("client-pass")
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokens("client-test-secret", "resultportal", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc := service.New(
		service.WithTokens(tokens),
		service.WithAdmin(service.Admin{Username: "admin", Name: "Head Teacher", PasswordHash: hash}),
		service.WithWorkerCount(1),
		service.WithLogger(logger.Nop()),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(mux)
	srv := httptest.NewServer(mux)
	return srv, func() {
		srv.Close()
		_ = svc.Stop(context.Background())
	}
}

func TestNew(t *testing.T) {
	Convey("Given base urls", t, func() {
		_, err := client.New("ftp://portal")
		So(err, ShouldNotBeNil)
		_, err = client.New("http://portal/")
		So(err, ShouldBeNil)
	})
}

func TestClientAgainstPortal(t *testing.T) {
	Convey("Given a running portal", t, func() {
		srv, stop := startPortal(t)
		defer stop()
		ctx := context.Background()
		c, err := client.New(srv.URL, client.WithPollInterval(10*time.Millisecond))
		So(err, ShouldBeNil)

		Convey("When the credentials are wrong", func() {
			_, err := c.Login(ctx, "admin", "nope")

			Convey("Then the decoded API error is returned", func() {
				var apiErr *client.APIError
				So(errors.As(err, &apiErr), ShouldBeTrue)
				So(apiErr.Status, ShouldEqual, http.StatusUnauthorized)
				So(apiErr.Code, ShouldEqual, "unauthorized")
				So(errors.Is(err, client.ErrRequest), ShouldBeTrue)
			})
		})

		Convey("When a teacher uploads and a student looks up", func() {
			_, err := c.Login(ctx, "admin", "client-pass")
			So(err, ShouldBeNil)

			receipt, err := c.UploadResults(ctx, service.UploadRequest{
				BatchID: "client-1",
				Results: []model.Result{{
					GRNumber:     "GR-7",
					DateOfBirth:  "2011-01-02",
					StudentName:  "Mira Desai",
					Standard:     "9",
					Exam:         "Final",
					AcademicYear: "2025-26",
					Subjects:     []model.SubjectMark{{Name: "Maths", Obtained: 88, Max: 100}},
				}},
			})
			So(err, ShouldBeNil)
			job, err := c.WaitImport(ctx, receipt.JobID)
			So(err, ShouldBeNil)

			Convey("Then the import completes and the result is public", func() {
				So(job.State, ShouldEqual, model.ImportCompleted)
				So(job.Accepted, ShouldEqual, 1)

				res, err := c.Lookup(ctx, service.LookupRequest{GRNumber: "gr-7", DateOfBirth: "2011-01-02"})
				So(err, ShouldBeNil)
				So(res.StudentName, ShouldEqual, "Mira Desai")
				So(res.Rank, ShouldEqual, 1)

				listed, err := c.ListResults(ctx, model.ResultQuery{Standard: "9"})
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 1)
			})

			Convey("Then resubmitting the batch reports the first job", func() {
				_, err := c.UploadResults(ctx, service.UploadRequest{
					BatchID: "client-1",
					Results: []model.Result{{GRNumber: "GR-8"}},
				})
				var apiErr *client.APIError
				So(errors.As(err, &apiErr), ShouldBeTrue)
				So(apiErr.Status, ShouldEqual, http.StatusConflict)
				So(apiErr.JobID, ShouldEqual, receipt.JobID)
			})
		})

		Convey("When previewing attendance far from the school", func() {
			settings, err := c.Settings(ctx)
			So(err, ShouldBeNil)
			far := geo.Coordinate{Lat: settings.Reference.Lat + 1, Lon: settings.Reference.Lon}
			res, err := c.CheckAttendance(ctx, service.AttendanceRequest{Status: "present", Location: &far})

			Convey("Then the verdict is ineligible but not an error", func() {
				So(err, ShouldBeNil)
				So(res.Verdict.Eligible, ShouldBeFalse)
				So(res.Verdict.DistanceKm, ShouldBeGreaterThan, 100)
			})
		})

		Convey("When checking health", func() {
			body, err := c.Health(ctx)
			So(err, ShouldBeNil)
			So(body["status"], ShouldEqual, "ok")
		})
	})
}
