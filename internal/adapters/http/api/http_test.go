package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/resultportal/internal/adapters/http/api"
	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/auth"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/logger"
)

const password = "s3cret-pass"

const sheet = "gr_number,date_of_birth,student_name,standard,division,exam,academic_year,Maths/100,Science/100\n" +
	"GR-1,02/04/2010,Asha Patel,10,A,Final,2025-26,95,90\n" +
	"GR-2,2010-05-06,Ravi Shah,10,B,Final,2025-26,60,70\n"

type harness struct {
	svc *service.Service
	mux *http.ServeMux
}

func newHarness(t *testing.T, wrap func(*service.Service) api.Portal) *harness {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokens("http-test-secret", "resultportal", time.Hour)
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
	var portal api.Portal = svc
	if wrap != nil {
		portal = wrap(svc)
	}
	mux := http.NewServeMux()
	api.NewServer(portal, svc, api.WithLogger(logger.Nop()), api.WithMaxBodyBytes(1<<16)).Register(mux)
	return &harness{svc: svc, mux: mux}
}

func (h *harness) close() { _ = h.svc.Stop(context.Background()) }

func (h *harness) do(method, path, contentType, body, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func (h *harness) login(t *testing.T) string {
	t.Helper()
	w := h.do(http.MethodPost, "/auth/login", "application/json", `{"username":"admin","password":"`+password+`"}`, "")
	var res service.LoginResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || res.Token == "" {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	return res.Token
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	_ = json.Unmarshal(w.Body.Bytes(), &v)
	return v
}

type errBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Verdict *attendance.Verdict `json:"verdict"`
	JobID   string              `json:"job_id"`
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given a running portal", t, func() {
		h := newHarness(t, nil)
		defer h.close()

		Convey("When probing health", func() {
			w := h.do(http.MethodGet, "/healthz", "", "", "")
			body := decode[map[string]any](w)

			Convey("Then the store backend and status are reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(body["status"], ShouldEqual, "ok")
				So(body["storage"], ShouldEqual, "memory")
				So(body, ShouldContainKey, "uptime_seconds")
			})
		})

		Convey("When reading stats and metrics", func() {
			stats := h.do(http.MethodGet, "/stats", "", "", "")
			h.do(http.MethodPost, "/results/lookup", "application/json", `{}`, "")
			m := h.do(http.MethodGet, "/metrics", "", "", "")

			Convey("Then both answer", func() {
				So(stats.Code, ShouldEqual, http.StatusOK)
				So(decode[map[string]any](stats)["started"], ShouldEqual, true)
				So(m.Code, ShouldEqual, http.StatusOK)
				So(m.Body.String(), ShouldContainSubstring, "portal_http_requests_total")
			})
		})

		Convey("When using a method a route does not serve", func() {
			w := h.do(http.MethodGet, "/results/lookup", "", "", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestLogin(t *testing.T) {
	Convey("Given the bootstrapped admin", t, func() {
		h := newHarness(t, nil)
		defer h.close()

		Convey("When the password is wrong", func() {
			w := h.do(http.MethodPost, "/auth/login", "application/json", `{"username":"admin","password":"nope"}`, "")

			Convey("Then 401 is returned with a bearer challenge", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decode[errBody](w).Code, ShouldEqual, "unauthorized")
				So(w.Header().Get("WWW-Authenticate"), ShouldStartWith, "Bearer")
			})
		})

		Convey("When the body is not JSON", func() {
			w := h.do(http.MethodPost, "/auth/login", "application/json", `username=admin`, "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body exceeds the limit", func() {
			w := h.do(http.MethodPost, "/auth/login", "application/json", `{"username":"`+strings.Repeat("a", 1<<17)+`"}`, "")
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
		})

		Convey("When protected routes are called with a forged token", func() {
			w := h.do(http.MethodGet, "/attendance/today", "", "", "not-a-jwt")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})
	})
}

func TestAttendanceEndpoints(t *testing.T) {
	Convey("Given a logged in teacher", t, func() {
		h := newHarness(t, nil)
		defer h.close()
		token := h.login(t)

		Convey("When reading the attendance config", func() {
			cfg := decode[service.AttendanceSettings](h.do(http.MethodGet, "/attendance/config", "", "", ""))

			Convey("Then the school reference and radius are exposed", func() {
				So(cfg.MaxDistanceKm, ShouldEqual, attendance.DefaultMaxDistanceKm)
				So(cfg.Reference.Lat, ShouldEqual, attendance.DefaultReferenceLat)
				So(len(cfg.Statuses), ShouldEqual, 4)
			})
		})

		Convey("When previewing without a location", func() {
			w := h.do(http.MethodPost, "/attendance/check", "application/json", `{"status":"present","location_error":"timeout"}`, "")
			res := decode[service.CheckResult](w)

			Convey("Then the preview is a 200 with an ineligible verdict", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(res.Verdict.Eligible, ShouldBeFalse)
				So(res.Verdict.Reason, ShouldEqual, attendance.ReasonLocationMissing)
				So(res.LocationError, ShouldEqual, "timeout")
			})
		})

		Convey("When previewing an unknown status", func() {
			w := h.do(http.MethodPost, "/attendance/check", "application/json", `{"status":"late"}`, "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When marking without a token", func() {
			w := h.do(http.MethodPost, "/attendance", "application/json", `{"status":"leave"}`, "")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When marking from across the city", func() {
			w := h.do(http.MethodPost, "/attendance", "application/json",
				`{"status":"present","location":{"latitude":23.0225,"longitude":72.5714}}`, token)
			body := decode[errBody](w)

			Convey("Then 403 carries the verdict with the distance", func() {
				So(w.Code, ShouldEqual, http.StatusForbidden)
				So(body.Code, ShouldEqual, "not_eligible")
				So(body.Verdict, ShouldNotBeNil)
				So(body.Verdict.Measured, ShouldBeTrue)
				So(body.Verdict.DistanceKm, ShouldBeGreaterThan, 20)
			})
		})

		Convey("When marking with an impossible coordinate", func() {
			w := h.do(http.MethodPost, "/attendance", "application/json",
				`{"status":"present","location":{"latitude":123,"longitude":0}}`, token)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When marking at the school", func() {
			w := h.do(http.MethodPost, "/attendance", "application/json",
				`{"status":"present","location":{"latitude":22.81713251852116,"longitude":72.47335209589137},"remarks":"on time"}`, token)
			rec := decode[model.AttendanceRecord](w)

			Convey("Then the record is created", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(rec.Status, ShouldEqual, attendance.Present)
				So(rec.Geohash, ShouldNotBeBlank)
				So(rec.Remarks, ShouldEqual, "on time")
			})

			Convey("And a second mark the same day conflicts", func() {
				again := h.do(http.MethodPost, "/attendance", "application/json", `{"status":"leave"}`, token)
				So(again.Code, ShouldEqual, http.StatusConflict)
				So(decode[errBody](again).Code, ShouldEqual, "already_marked")
			})

			Convey("And today's record and history are readable", func() {
				today := h.do(http.MethodGet, "/attendance/today", "", "", token)
				So(today.Code, ShouldEqual, http.StatusOK)
				So(decode[model.AttendanceRecord](today).ID, ShouldEqual, rec.ID)

				list := h.do(http.MethodGet, "/attendance?from="+rec.Date+"&to="+rec.Date, "", "", token)
				So(list.Code, ShouldEqual, http.StatusOK)
				So(decode[map[string]any](list)["count"], ShouldEqual, 1.0)
			})
		})

		Convey("When nothing was marked today", func() {
			w := h.do(http.MethodGet, "/attendance/today", "", "", token)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the history range is reversed", func() {
			w := h.do(http.MethodGet, "/attendance?from=2025-02-01&to=2025-01-01", "", "", token)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func waitImport(t *testing.T, h *harness, token, jobID string) model.ImportJob {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		job := decode[model.ImportJob](h.do(http.MethodGet, "/admin/imports/"+jobID, "", "", token))
		if job.State.Terminal() || time.Now().After(deadline) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResultEndpoints(t *testing.T) {
	Convey("Given a logged in teacher", t, func() {
		h := newHarness(t, nil)
		defer h.close()
		token := h.login(t)

		Convey("When uploading without a token", func() {
			w := h.do(http.MethodPost, "/admin/results", "text/csv", sheet, "")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When uploading a malformed sheet", func() {
			w := h.do(http.MethodPost, "/admin/results", "text/csv", "gr_number,dob\n", token)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When uploading a CSV sheet", func() {
			w := h.do(http.MethodPost, "/admin/results?batch_id=final-10", "text/csv; charset=utf-8", sheet, token)
			receipt := decode[service.UploadReceipt](w)

			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(w.Header().Get("Location"), ShouldEqual, "/admin/imports/"+receipt.JobID)
			job := waitImport(t, h, token, receipt.JobID)

			Convey("Then the import completes and results are graded and ranked", func() {
				So(job.State, ShouldEqual, model.ImportCompleted)
				So(job.Accepted, ShouldEqual, 2)
				So(job.UploadedBy, ShouldEqual, "admin")

				lw := h.do(http.MethodPost, "/results/lookup", "application/json", `{"gr_number":" gr-1 ","date_of_birth":"2010-04-02"}`, "")
				res := decode[model.Result](lw)
				So(lw.Code, ShouldEqual, http.StatusOK)
				So(res.Percentage, ShouldEqual, 92.5)
				So(res.Grade, ShouldEqual, "A1")
				So(res.Rank, ShouldEqual, 1)
			})

			Convey("Then a wrong date of birth looks like an unknown student", func() {
				lw := h.do(http.MethodPost, "/results/lookup", "application/json", `{"gr_number":"GR-1","date_of_birth":"2011-04-02"}`, "")
				So(lw.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("Then resubmitting the batch conflicts with the original job id", func() {
				again := h.do(http.MethodPost, "/admin/results?batch_id=final-10", "text/csv", sheet, token)
				So(again.Code, ShouldEqual, http.StatusConflict)
				So(decode[errBody](again).JobID, ShouldEqual, receipt.JobID)
			})

			Convey("Then the class can be listed and a row deleted", func() {
				list := h.do(http.MethodGet, "/admin/results?standard=10&exam=Final&academic_year=2025-26", "", "", token)
				So(list.Code, ShouldEqual, http.StatusOK)
				page := decode[struct {
					Results []model.Result `json:"results"`
					Count   int            `json:"count"`
				}](list)
				So(page.Count, ShouldEqual, 2)
				So(page.Results[0].GRNumber, ShouldEqual, "GR-1")

				del := h.do(http.MethodDelete, "/admin/results/"+page.Results[0].ID, "", "", token)
				So(del.Code, ShouldEqual, http.StatusNoContent)
				gone := h.do(http.MethodDelete, "/admin/results/"+page.Results[0].ID, "", "", token)
				So(gone.Code, ShouldEqual, http.StatusNotFound)

				lw := h.do(http.MethodPost, "/results/lookup", "application/json", `{"gr_number":"GR-2","date_of_birth":"06/05/2010"}`, "")
				So(decode[model.Result](lw).Rank, ShouldEqual, 1)
			})

			Convey("Then a bad limit is rejected", func() {
				w := h.do(http.MethodGet, "/admin/results?limit=ten", "", "", token)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When uploading JSON with an invalid row", func() {
			body := `{"results":[
				{"gr_number":"GR-9","date_of_birth":"2010-01-01","student_name":"Mira","standard":"9","exam":"Unit 1","academic_year":"2025-26","subjects":[{"name":"Maths","obtained":40,"max":50}]},
				{"gr_number":"GR-10","date_of_birth":"2010-01-01","student_name":"Dev","standard":"9","exam":"Unit 1","academic_year":"2025-26","subjects":[{"name":"Maths","obtained":60,"max":50}]}
			]}`
			w := h.do(http.MethodPost, "/admin/results", "application/json", body, token)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			job := waitImport(t, h, token, decode[service.UploadReceipt](w).JobID)

			Convey("Then the job reports the rejected row", func() {
				So(job.State, ShouldEqual, model.ImportCompleted)
				So(job.Accepted, ShouldEqual, 1)
				So(job.Rejected, ShouldEqual, 1)
				So(job.Errors[0].Row, ShouldEqual, 2)
				So(job.Errors[0].GRNumber, ShouldEqual, "GR-10")
			})
		})

		Convey("When the import job is unknown", func() {
			w := h.do(http.MethodGet, "/admin/imports/nope", "", "", token)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

type failingPortal struct {
	*service.Service
	err error
}

func (f failingPortal) SubmitResults(context.Context, service.UploadRequest) (service.UploadReceipt, error) {
	return service.UploadReceipt{}, f.err
}

func TestErrorMapping(t *testing.T) {
	Convey("Given a portal whose uploads fail", t, func() {
		cases := []struct {
			err    error
			status int
			code   string
		}{
			{service.ErrBusy, http.StatusTooManyRequests, "backpressure"},
			{service.ErrNotStarted, http.StatusServiceUnavailable, "unavailable"},
			{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
		}
		for _, c := range cases {
			h := newHarness(t, func(s *service.Service) api.Portal { return failingPortal{Service: s, err: c.err} })
			token := h.login(t)
			w := h.do(http.MethodPost, "/admin/results", "text/csv", sheet, token)
			body := decode[errBody](w)
			h.close()

			So(w.Code, ShouldEqual, c.status)
			So(body.Code, ShouldEqual, c.code)
			if c.status == http.StatusInternalServerError {
				So(body.Message, ShouldNotContainSubstring, "disk")
			}
		}
	})
}

func TestOpError(t *testing.T) {
	Convey("Given an operation error", t, func() {
		cause := errors.New("unexpected EOF")
		err := api.WrapKind("api.login", api.ErrBadRequest, cause)

		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.login: bad request: unexpected EOF")
		So(api.NewKind("api.authenticate", api.ErrUnauthorized).Error(), ShouldEqual, "api.authenticate: missing or invalid bearer token")
	})
}

func TestRequestValidation(t *testing.T) {
	Convey("Given the API", t, func() {
		h := newHarness(t, nil)
		defer h.close()
		token := h.login(t)

		cases := []struct {
			name, path, body, token, want string
		}{
			{"a lookup without identifiers", "/results/lookup", `{"exam":"Final"}`, "", "gr_number is required"},
			{"a login without a password", "/auth/login", `{"username":"admin"}`, "", "password is required"},
			{"a check without a status", "/attendance/check", `{"remarks":"x"}`, "", "status is required"},
			{"a mark with an out of range longitude", "/attendance", `{"status":"present","location":{"latitude":10,"longitude":190}}`, token, "location.longitude"},
			{"an upload with no rows", "/admin/results", `{"batch_id":"b-1","results":[]}`, token, "results needs at least 1"},
		}
		for _, c := range cases {
			Convey("When posting "+c.name, func() {
				w := h.do(http.MethodPost, c.path, "application/json", c.body, c.token)

				Convey("Then the field is named in a 400", func() {
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					body := decode[errBody](w)
					So(body.Code, ShouldEqual, "bad_request")
					So(body.Message, ShouldContainSubstring, c.want)
				})
			})
		}
	})
}
