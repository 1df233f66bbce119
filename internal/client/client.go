// Package client is a typed HTTP client for the portal API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/model"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultPollInterval = 250 * time.Millisecond
	maxErrorBody        = 64 << 10
)

// ErrRequest is wrapped by every APIError.
var ErrRequest = errors.New("portal request failed")

// HTTPClient is implemented by http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError carries the decoded error body of a non-2xx response.
type APIError struct {
	Status  int                 `json:"-"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	JobID   string              `json:"job_id,omitempty"`
	Verdict *attendance.Verdict `json:"verdict,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code == "" {
		return fmt.Sprintf("%s: status=%d: %s", ErrRequest, e.Status, msg)
	}
	return fmt.Sprintf("%s: status=%d code=%s: %s", ErrRequest, e.Status, e.Code, msg)
}

func (e *APIError) Unwrap() error { return ErrRequest }

// Client calls a running portal.
type Client struct {
	base         *url.URL
	http         HTTPClient
	token        string
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithPollInterval sets how often WaitImport polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New returns a client for the portal at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:         u,
		http:         &http.Client{Timeout: defaultTimeout},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken replaces the bearer token, typically after Login.
func (c *Client) SetToken(token string) { c.token = strings.TrimSpace(token) }

// Login exchanges credentials for a token. The token is kept for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (service.LoginResult, error) {
	var out service.LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", nil, body, &out); err != nil {
		return out, err
	}
	c.token = out.Token
	return out, nil
}

// Lookup fetches a student's result.
func (c *Client) Lookup(ctx context.Context, req service.LookupRequest) (model.Result, error) {
	var out model.Result
	err := c.doJSON(ctx, http.MethodPost, "/results/lookup", nil, req, &out)
	return out, err
}

// CheckAttendance previews the verdict for req without recording it.
func (c *Client) CheckAttendance(ctx context.Context, req service.AttendanceRequest) (service.CheckResult, error) {
	var out service.CheckResult
	err := c.doJSON(ctx, http.MethodPost, "/attendance/check", nil, req, &out)
	return out, err
}

// MarkAttendance records today's attendance for the logged in teacher.
func (c *Client) MarkAttendance(ctx context.Context, req service.AttendanceRequest) (model.AttendanceRecord, error) {
	var out model.AttendanceRecord
	err := c.doJSON(ctx, http.MethodPost, "/attendance", nil, req, &out)
	return out, err
}

// Settings returns the active attendance policy.
func (c *Client) Settings(ctx context.Context) (service.AttendanceSettings, error) {
	var out service.AttendanceSettings
	err := c.doJSON(ctx, http.MethodGet, "/attendance/config", nil, nil, &out)
	return out, err
}

// UploadResults submits a batch of results.
func (c *Client) UploadResults(ctx context.Context, req service.UploadRequest) (service.UploadReceipt, error) {
	var out service.UploadReceipt
	err := c.doJSON(ctx, http.MethodPost, "/admin/results", nil, req, &out)
	return out, err
}

// ImportStatus reports the progress of an upload.
func (c *Client) ImportStatus(ctx context.Context, jobID string) (model.ImportJob, error) {
	var out model.ImportJob
	err := c.doJSON(ctx, http.MethodGet, "/admin/imports/"+url.PathEscape(jobID), nil, nil, &out)
	return out, err
}

// WaitImport polls until the job reaches a terminal state or ctx ends.
func (c *Client) WaitImport(ctx context.Context, jobID string) (model.ImportJob, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		job, err := c.ImportStatus(ctx, jobID)
		if err != nil {
			return job, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListResults lists stored results matching q.
func (c *Client) ListResults(ctx context.Context, q model.ResultQuery) ([]model.Result, error) {
	params := url.Values{}
	for k, v := range map[string]string{
		"standard":      q.Standard,
		"exam":          q.Exam,
		"academic_year": q.AcademicYear,
		"gr_number":     q.GRNumber,
	} {
		if v != "" {
			params.Set(k, v)
		}
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	var page struct {
		Results []model.Result `json:"results"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/admin/results", params, nil, &page)
	return page.Results, err
}

// Health returns the decoded /healthz body. A degraded portal yields an
// APIError with status 503.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
