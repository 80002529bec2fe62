// Package checkpoint keeps a local history of runs and of the batches each
// run loaded, in SQLite.
package checkpoint

import "time"

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run is one invocation of the target.
type Run struct {
	ID          string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Error       string
	Batches     int
	Rows        int64
}

// Batch is one flush of one stream.
type Batch struct {
	RunID     string
	Stream    string
	Table     string
	Rows      int
	StartedAt time.Time
	Duration  time.Duration
	Status    string
	Error     string
}

// HistoryBackend persists runs and batches.
type HistoryBackend interface {
	CreateRun(id string) error
	CompleteRun(id, status, errorMsg string) error
	RecordBatch(b Batch) error
	GetAllRuns() ([]Run, error)
	GetRunByID(id string) (*Run, error)
	GetRunBatches(runID string) ([]Batch, error)
	Close() error
}

// Ensure State implements HistoryBackend
var _ HistoryBackend = (*State)(nil)
