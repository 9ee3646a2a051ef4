package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/datafusion/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")
	// ErrExportJobNotFound is returned when an export job id is unknown.
	ErrExportJobNotFound = errors.New("export job not found")
	// ErrExportJobStatusConflict indicates that a job cannot transition to the requested state.
	ErrExportJobStatusConflict = errors.New("export job status conflict")
)

// RunRepository persists reconciliation runs.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) (domain.Run, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Run, error)
	Complete(ctx context.Context, id uuid.UUID, status domain.RunStatus, completedAt time.Time) (domain.Run, error)
}

// ExportJobRepository persists export job state transitions.
type ExportJobRepository interface {
	Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.ExportJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// ExportResult summarizes the artifact produced by a finished export job.
type ExportResult struct {
	RowsExported int
	BytesWritten int64
	FilePath     string
	FileMimeType string
}

// IngestionLogRepository records row level upload issues.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	ListByRun(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}
