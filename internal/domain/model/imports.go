package model

import "time"

// ImportState is the lifecycle of an import job.
type ImportState string

// Import job states.
const (
	ImportQueued    ImportState = "queued"
	ImportRunning   ImportState = "running"
	ImportCompleted ImportState = "completed"
	ImportFailed    ImportState = "failed"
)

// Terminal reports whether no further transitions happen.
func (s ImportState) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed
}

// ImportBatch is the unit of work handed to import workers.
type ImportBatch struct {
	JobID      string
	BatchID    string
	UploadedBy string
	Rows       []Result
}

// RowError describes one rejected row of a batch. Row is 1-based.
type RowError struct {
	Row      int    `json:"row" yaml:"row"`
	GRNumber string `json:"gr_number,omitempty" yaml:"gr_number,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

// ImportJob reports progress of an uploaded batch.
type ImportJob struct {
	ID         string      `json:"id" yaml:"id"`
	BatchID    string      `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	State      ImportState `json:"state" yaml:"state"`
	Total      int         `json:"total" yaml:"total"`
	Accepted   int         `json:"accepted" yaml:"accepted"`
	Rejected   int         `json:"rejected" yaml:"rejected"`
	Errors     []RowError  `json:"errors,omitempty" yaml:"errors,omitempty"`
	Failure    string      `json:"failure,omitempty" yaml:"failure,omitempty"`
	UploadedBy string      `json:"uploaded_by,omitempty" yaml:"uploaded_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at" yaml:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}
