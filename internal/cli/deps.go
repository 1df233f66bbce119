// Package cli implements the portalctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/client"
	"github.com/okian/resultportal/internal/domain/model"
)

var unknownCommandPattern = regexp.MustCompile(`unknown command "([^"]+)"`)

// API is the portal surface the commands call. *client.Client satisfies it.
type API interface {
	Login(ctx context.Context, username, password string) (service.LoginResult, error)
	Lookup(ctx context.Context, req service.LookupRequest) (model.Result, error)
	ListResults(ctx context.Context, q model.ResultQuery) ([]model.Result, error)
	UploadResults(ctx context.Context, req service.UploadRequest) (service.UploadReceipt, error)
	WaitImport(ctx context.Context, jobID string) (model.ImportJob, error)
	CheckAttendance(ctx context.Context, req service.AttendanceRequest) (service.CheckResult, error)
	MarkAttendance(ctx context.Context, req service.AttendanceRequest) (model.AttendanceRecord, error)
	Settings(ctx context.Context) (service.AttendanceSettings, error)
	Health(ctx context.Context) (map[string]any, error)
}

// Dependencies wires runtime services.
type Dependencies struct {
	// NewAPI builds a client for the portal at baseURL.
	NewAPI func(baseURL string, opts ...client.Option) (API, error)
	// Migrate applies the storage schema to the database at url.
	Migrate func(ctx context.Context, url string) error
	Stdin   io.Reader
	Version string
}

// DefaultNewAPI adapts client.New to Dependencies.NewAPI.
func DefaultNewAPI(baseURL string, opts ...client.Option) (API, error) {
	return client.New(baseURL, opts...)
}

// Execute runs the CLI with injected dependencies and returns the exit code.
func Execute(ctx context.Context, args []string, deps Dependencies, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(deps)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var controlled *exitError
	if errors.As(err, &controlled) {
		return controlled.code
	}
	if matches := unknownCommandPattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		_, _ = fmt.Fprintf(stderr, "No such command '%s'\n", matches[1])
		return 2
	}
	if msg := err.Error(); msg != "" {
		_, _ = fmt.Fprintln(stderr, msg)
	}
	return 1
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return ""
}
