package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus captures the lifecycle of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Run groups one pass through upload, mapping, merge and export.
type Run struct {
	ID          uuid.UUID  `json:"runId"`
	ActionKey   string     `json:"actionKey,omitempty"`
	SecureMode  bool       `json:"secureMode"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewRun creates a running run with a fresh identifier.
func NewRun(actionKey string, secureMode bool, now time.Time) Run {
	return Run{
		ID:         uuid.New(),
		ActionKey:  actionKey,
		SecureMode: secureMode,
		Status:     RunStatusRunning,
		StartedAt:  now.UTC(),
	}
}

// IngestionLogEntry captures row level issues that occur while parsing uploads.
type IngestionLogEntry struct {
	ID           uuid.UUID  `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	Dataset      DatasetTag `json:"dataset"`
	FileName     string     `json:"file_name"`
	RowNumber    *int       `json:"row_number,omitempty"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
}
