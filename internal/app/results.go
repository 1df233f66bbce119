package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/resultportal/internal/adapters/mq/queue"
	"github.com/okian/resultportal/internal/adapters/repository"
	"github.com/okian/resultportal/internal/domain/grading"
	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/logger"
	"github.com/okian/resultportal/pkg/metrics"
)

// SubmitResults queues a batch for grading and storage. A repeated
// non-empty BatchID returns *DuplicateBatchError naming the first job.
func (s *Service) SubmitResults(ctx context.Context, req UploadRequest) (UploadReceipt, error) {
	if !s.running() {
		return UploadReceipt{}, ErrNotStarted
	}
	if len(req.Results) == 0 {
		return UploadReceipt{}, invalid("batch has no results")
	}
	if len(req.Results) > s.maxBatchRows {
		return UploadReceipt{}, invalid("batch has %d results, limit is %d", len(req.Results), s.maxBatchRows)
	}

	batchID := strings.TrimSpace(req.BatchID)
	jobID := uuid.NewString()
	if batchID != "" {
		if prev, seen := s.deduper.SeenOrRecord(ctx, batchID, jobID); seen {
			metrics.RecordImportBatchDuplicate()
			s.log().Info(ctx, "duplicate batch ignored", logger.String("batch_id", batchID), logger.String("job_id", prev))
			return UploadReceipt{JobID: prev, BatchID: batchID}, &DuplicateBatchError{BatchID: batchID, JobID: prev}
		}
	}

	s.jobs.add(model.ImportJob{
		ID:         jobID,
		BatchID:    batchID,
		State:      model.ImportQueued,
		Total:      len(req.Results),
		UploadedBy: req.UploadedBy,
		CreatedAt:  s.now(),
	})

	batch := queue.Batch{JobID: jobID, BatchID: batchID, UploadedBy: req.UploadedBy, Rows: req.Results}
	if err := s.queue.Enqueue(ctx, batch); err != nil {
		s.jobs.remove(jobID)
		if batchID != "" {
			s.deduper.Forget(ctx, batchID)
		}
		if errors.Is(err, queue.ErrQueueFull) {
			return UploadReceipt{}, fmt.Errorf("%w: %w", ErrBusy, err)
		}
		return UploadReceipt{}, fmt.Errorf("enqueue batch: %w", err)
	}
	metrics.RecordImportJob(string(model.ImportQueued))

	return UploadReceipt{JobID: jobID, BatchID: batchID, State: model.ImportQueued, Total: len(req.Results)}, nil
}

// ImportStatus reports the progress of an upload job.
func (s *Service) ImportStatus(_ context.Context, jobID string) (model.ImportJob, error) {
	if !s.running() {
		return model.ImportJob{}, ErrNotStarted
	}
	job, ok := s.jobs.get(jobID)
	if !ok {
		return model.ImportJob{}, fmt.Errorf("%w: import job %s", ErrNotFound, jobID)
	}
	return job, nil
}

// processBatch grades and stores each row, then re-ranks every class the
// batch touched. Row failures are recorded on the job; store failures
// during ranking fail the job.
func (s *Service) processBatch(ctx context.Context, b queue.Batch) error { //nolint:gocritic // hugeParam
	s.jobs.update(b.JobID, func(j *model.ImportJob) { j.State = model.ImportRunning })
	metrics.RecordImportJob(string(model.ImportRunning))

	var (
		rowErrors []model.RowError
		accepted  int
		touched   = make(map[model.ClassKey]struct{})
	)
	for i := range b.Rows {
		row := b.Rows[i]
		if err := s.prepareRow(&row, b.UploadedBy); err != nil {
			rowErrors = append(rowErrors, model.RowError{Row: i + 1, GRNumber: row.GRNumber, Message: err.Error()})
			continue
		}
		if err := s.store.UpsertResult(ctx, &row); err != nil {
			rowErrors = append(rowErrors, model.RowError{Row: i + 1, GRNumber: row.GRNumber, Message: err.Error()})
			continue
		}
		accepted++
		touched[row.Class()] = struct{}{}
	}
	metrics.RecordResultsImported("accepted", accepted)
	metrics.RecordResultsImported("rejected", len(rowErrors))

	var rankErr error
	for class := range touched {
		if err := s.rerank(ctx, class); err != nil {
			rankErr = err
			break
		}
	}

	state := model.ImportCompleted
	if rankErr != nil {
		state = model.ImportFailed
	}
	s.jobs.update(b.JobID, func(j *model.ImportJob) {
		j.Accepted = accepted
		j.Rejected = len(rowErrors)
		j.Errors = rowErrors
		if rankErr != nil {
			j.Failure = rankErr.Error()
		}
		finish(j, state, s.now())
	})
	metrics.RecordImportJob(string(state))

	s.log().Info(ctx, "import finished",
		logger.String("job_id", b.JobID),
		logger.String("state", string(state)),
		logger.Int("accepted", accepted),
		logger.Int("rejected", len(rowErrors)),
	)
	return rankErr
}

// abandonBatch fails the job of a batch that shutdown left unprocessed.
func (s *Service) abandonBatch(ctx context.Context, b queue.Batch) { //nolint:gocritic // hugeParam
	s.jobs.update(b.JobID, func(j *model.ImportJob) {
		if j.State.Terminal() {
			return
		}
		j.Failure = "portal stopped before the batch was imported"
		finish(j, model.ImportFailed, s.now())
	})
	metrics.RecordImportJob(string(model.ImportFailed))
	s.log().Warn(ctx, "import abandoned", logger.String("job_id", b.JobID), logger.Int("rows", len(b.Rows)))
}

// prepareRow normalizes identifying fields and grades the marks.
func (s *Service) prepareRow(r *model.Result, uploadedBy string) error {
	r.GRNumber = model.NormalizeGR(r.GRNumber)
	r.StudentName = strings.TrimSpace(r.StudentName)
	r.Standard = strings.TrimSpace(r.Standard)
	r.Division = strings.TrimSpace(r.Division)
	r.Exam = model.NormalizeExam(r.Exam)
	r.AcademicYear = strings.TrimSpace(r.AcademicYear)
	r.UploadedBy = uploadedBy
	r.Rank = 0

	switch {
	case r.GRNumber == "":
		return errors.New("gr_number is required")
	case r.StudentName == "":
		return errors.New("student_name is required")
	case r.Standard == "":
		return errors.New("standard is required")
	case r.Exam == "":
		return errors.New("exam is required")
	case r.AcademicYear == "":
		return errors.New("academic_year is required")
	}
	dob, err := model.NormalizeDate(r.DateOfBirth)
	if err != nil {
		return fmt.Errorf("date_of_birth: %w", err)
	}
	r.DateOfBirth = dob
	return s.grader.Grade(r)
}

// rerank recomputes competition ranks for one class.
func (s *Service) rerank(ctx context.Context, class model.ClassKey) error {
	s.rankLock.Lock()
	defer s.rankLock.Unlock()

	rows, err := s.store.ListResults(ctx, model.ResultQuery{
		Standard:     class.Standard,
		Exam:         class.Exam,
		AcademicYear: class.AcademicYear,
	})
	if err != nil {
		return fmt.Errorf("rank %s/%s/%s: %w", class.Standard, class.Exam, class.AcademicYear, err)
	}
	ptrs := make([]*model.Result, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	grading.Rank(ptrs)
	ranks := make(map[string]int, len(ptrs))
	for _, r := range ptrs {
		ranks[r.ID] = r.Rank
	}
	if err := s.store.SetRanks(ctx, ranks); err != nil {
		return fmt.Errorf("rank %s/%s/%s: %w", class.Standard, class.Exam, class.AcademicYear, err)
	}
	return nil
}

// LookupResult returns the latest marksheet for a GR number and date of
// birth. A wrong date of birth is indistinguishable from an unknown GR number.
func (s *Service) LookupResult(ctx context.Context, req LookupRequest) (model.Result, error) {
	gr := model.NormalizeGR(req.GRNumber)
	if gr == "" {
		return model.Result{}, invalid("gr_number is required")
	}
	dob, err := model.NormalizeDate(req.DateOfBirth)
	if err != nil {
		return model.Result{}, invalid("date_of_birth: %v", err)
	}

	start := time.Now()
	r, err := s.store.LookupResult(ctx, model.ResultQuery{
		GRNumber:     gr,
		DateOfBirth:  dob,
		Exam:         model.NormalizeExam(req.Exam),
		AcademicYear: strings.TrimSpace(req.AcademicYear),
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordResultLookup("not_found")
			return model.Result{}, fmt.Errorf("%w: no result for these details", ErrNotFound)
		}
		metrics.RecordResultLookup("error")
		return model.Result{}, fmt.Errorf("lookup result: %w", err)
	}
	metrics.RecordResultLookup("found")
	s.log().Debug(ctx, "result lookup", logger.String("gr_number", gr), logger.Duration("took", time.Since(start)))
	return r, nil
}

// ListResults returns stored results for administrators.
func (s *Service) ListResults(ctx context.Context, q model.ResultQuery) ([]model.Result, error) {
	q.Standard = strings.TrimSpace(q.Standard)
	q.Exam = model.NormalizeExam(q.Exam)
	q.AcademicYear = strings.TrimSpace(q.AcademicYear)
	if q.Limit < 0 {
		return nil, invalid("limit must not be negative")
	}
	out, err := s.store.ListResults(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// DeleteResult removes a result and re-ranks its class.
func (s *Service) DeleteResult(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("result id is required")
	}
	deleted, err := s.store.DeleteResult(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: result %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete result: %w", err)
	}
	return s.rerank(ctx, deleted.Class())
}
