package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/domain/model"
)

const maxParallelUploads = 4

func newLookupCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	var req service.LookupRequest
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up a student's result by GR number and date of birth.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := flags.api(deps)
			if err != nil {
				return err
			}
			res, err := api.Lookup(cmd.Context(), req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.format(), res, resultTable(res))
		},
	}
	cmd.Flags().StringVar(&req.GRNumber, "gr", "", "GR number. [required]")
	cmd.Flags().StringVar(&req.DateOfBirth, "dob", "", "Date of birth, YYYY-MM-DD or DD/MM/YYYY. [required]")
	cmd.Flags().StringVar(&req.Exam, "exam", "", "Exam name; defaults to the latest.")
	cmd.Flags().StringVar(&req.AcademicYear, "academic-year", "", "Academic year, e.g. 2025-26.")
	_ = cmd.MarkFlagRequired("gr")
	_ = cmd.MarkFlagRequired("dob")
	return cmd
}

func resultTable(r model.Result) *table {
	t := &table{header: []string{"FIELD", "VALUE"}}
	t.add("student", r.StudentName)
	t.add("gr_number", r.GRNumber)
	t.add("class", strings.TrimSpace(r.Standard+" "+r.Division))
	t.add("exam", r.Exam+" "+r.AcademicYear)
	for _, s := range r.Subjects {
		t.add("  "+s.Name, formatFloat(s.Obtained)+"/"+formatFloat(s.Max))
	}
	t.add("total", formatFloat(r.TotalObtained)+"/"+formatFloat(r.TotalMax))
	t.add("percentage", formatFloat(r.Percentage)+"%")
	t.add("grade", r.Grade)
	t.add("pass", strconv.FormatBool(r.Pass))
	if r.Rank > 0 {
		t.add("rank", strconv.Itoa(r.Rank))
	}
	return t
}

func newResultsCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	var q model.ResultQuery
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored results for a class, exam or student.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if q.Limit < 0 {
				return errors.New("--limit must not be negative")
			}
			api, err := flags.api(deps)
			if err != nil {
				return err
			}
			rs, err := api.ListResults(cmd.Context(), q)
			if err != nil {
				return err
			}
			if rs == nil {
				rs = []model.Result{}
			}
			t := &table{header: []string{"GR", "NAME", "CLASS", "EXAM", "YEAR", "PERCENT", "GRADE", "RANK"}}
			for _, r := range rs {
				rank := "-"
				if r.Rank > 0 {
					rank = strconv.Itoa(r.Rank)
				}
				t.add(r.GRNumber, r.StudentName, strings.TrimSpace(r.Standard+" "+r.Division), r.Exam, r.AcademicYear,
					formatFloat(r.Percentage), r.Grade, rank)
			}
			return render(cmd.OutOrStdout(), flags.format(), rs, t)
		},
	}
	cmd.Flags().StringVar(&q.Standard, "standard", "", "Standard (class), e.g. 10.")
	cmd.Flags().StringVar(&q.Exam, "exam", "", "Exam name.")
	cmd.Flags().StringVar(&q.AcademicYear, "academic-year", "", "Academic year, e.g. 2025-26.")
	cmd.Flags().StringVar(&q.GRNumber, "gr", "", "GR number.")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "Maximum rows; 0 means no limit.")
	return cmd
}

// uploadOutcome is one row of the upload report.
type uploadOutcome struct {
	File     string            `json:"file"`
	JobID    string            `json:"job_id"`
	BatchID  string            `json:"batch_id,omitempty"`
	State    model.ImportState `json:"state"`
	Total    int               `json:"total"`
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Errors   []model.RowError  `json:"errors,omitempty"`
}

func newUploadCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	var (
		files   []string
		batchID string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload result sheets (CSV or JSON) as import batches.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := flags.api(deps)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			p := pool.NewWithResults[uploadOutcome]().
				WithContext(ctx).
				WithMaxGoroutines(maxParallelUploads)
			for _, file := range files {
				p.Go(func(ctx context.Context) (uploadOutcome, error) {
					rows, err := readResultsFile(file)
					if err != nil {
						return uploadOutcome{}, err
					}
					req := service.UploadRequest{BatchID: uploadBatchID(batchID, file, len(files)), Results: rows}
					receipt, err := api.UploadResults(ctx, req)
					if err != nil {
						return uploadOutcome{}, fmt.Errorf("%s: %w", file, err)
					}
					out := uploadOutcome{File: file, JobID: receipt.JobID, BatchID: receipt.BatchID, State: receipt.State, Total: receipt.Total}
					if !wait {
						return out, nil
					}
					job, err := api.WaitImport(ctx, receipt.JobID)
					if err != nil {
						return out, fmt.Errorf("%s: wait for %s: %w", file, receipt.JobID, err)
					}
					out.State, out.Accepted, out.Rejected, out.Errors = job.State, job.Accepted, job.Rejected, job.Errors
					return out, nil
				})
			}
			outcomes, err := p.Wait()
			if err != nil {
				return err
			}
			sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].File < outcomes[j].File })

			t := &table{header: []string{"FILE", "JOB", "STATE", "TOTAL", "ACCEPTED", "REJECTED"}}
			for _, o := range outcomes {
				t.add(o.File, o.JobID, string(o.State), strconv.Itoa(o.Total), strconv.Itoa(o.Accepted), strconv.Itoa(o.Rejected))
			}
			if err := render(cmd.OutOrStdout(), flags.format(), outcomes, t); err != nil {
				return err
			}
			for _, o := range outcomes {
				if o.State == model.ImportFailed || o.Rejected > 0 {
					return &exitError{code: 3}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&files, "file", nil, "Result sheet to upload; repeatable. [required]")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Idempotency key; suffixed with the file name when several files are given.")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for each import to finish and report row counts.")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func uploadBatchID(batchID, file string, files int) string {
	if batchID == "" || files < 2 {
		return batchID
	}
	return batchID + "/" + filepath.Base(file)
}

// readResultsFile parses a CSV sheet, or JSON holding either an upload
// request or a bare array of results.
func readResultsFile(path string) ([]model.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.EqualFold(filepath.Ext(path), ".json") {
		rows, err := model.ReadResultsCSV(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return rows, nil
	}

	var raw json.RawMessage
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var rows []model.Result
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	var req service.UploadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%s: expected a results array or an upload request: %w", path, err)
	}
	return req.Results, nil
}
