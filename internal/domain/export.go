package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExportFormat enumerates the supported merged file formats.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ParseExportFormat normalizes user input, defaulting to CSV.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return ExportFormatCSV, nil
	case "xlsx", "excel":
		return ExportFormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", raw)
}

// MimeType returns the content type written for the format.
func (f ExportFormat) MimeType() string {
	if f == ExportFormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// ExportJobStatus captures lifecycle state for an export job.
type ExportJobStatus string

const (
	ExportJobStatusPending   ExportJobStatus = "PENDING"
	ExportJobStatusRunning   ExportJobStatus = "RUNNING"
	ExportJobStatusCompleted ExportJobStatus = "COMPLETED"
	ExportJobStatusFailed    ExportJobStatus = "FAILED"
)

// ExportJob mirrors persisted export job metadata.
type ExportJob struct {
	ID           uuid.UUID       `json:"id"`
	RunID        uuid.UUID       `json:"run_id"`
	Format       ExportFormat    `json:"format"`
	RowsExported int             `json:"rows_exported"`
	BytesWritten int64           `json:"bytes_written"`
	FilePath     *string         `json:"file_path,omitempty"`
	FileMimeType *string         `json:"file_mime_type,omitempty"`
	Status       ExportJobStatus `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
