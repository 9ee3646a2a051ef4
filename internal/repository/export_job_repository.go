package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/datafusion/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type exportJobRepository struct {
	pool *pgxpool.Pool
}

// NewExportJobRepository wires a repository for managing export jobs.
func NewExportJobRepository(pool *pgxpool.Pool) ExportJobRepository {
	return &exportJobRepository{pool: pool}
}

const exportJobColumns = `id, run_id, format, rows_exported, bytes_written, file_path, file_mime_type,
	status, error_message, enqueued_at, started_at, completed_at, updated_at`

func (r *exportJobRepository) Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO export_jobs (id, run_id, format, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+exportJobColumns,
		job.ID,
		job.RunID,
		string(job.Format),
		string(domain.ExportJobStatusPending),
	)
	created, err := scanExportJob(row)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("insert export job: %w", err)
	}
	return created, nil
}

func (r *exportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+exportJobColumns+` FROM export_jobs WHERE id = $1`, id)
	job, err := scanExportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExportJob{}, ErrExportJobNotFound
		}
		return domain.ExportJob{}, fmt.Errorf("get export job: %w", err)
	}
	return job, nil
}

func (r *exportJobRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.ExportJob, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+exportJobColumns+` FROM export_jobs WHERE run_id = $1 ORDER BY enqueued_at DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.ExportJob{}
	for rows.Next() {
		job, scanErr := scanExportJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan export job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate export jobs: %w", rowsErr)
	}
	return jobs, nil
}

func (r *exportJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE export_jobs SET status = $2, started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id,
		string(domain.ExportJobStatusRunning),
		string(domain.ExportJobStatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark export job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStatusConflict
	}
	return nil
}

func (r *exportJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error {
	filePath := pgtype.Text{}
	if result.FilePath != "" {
		filePath = pgtype.Text{String: result.FilePath, Valid: true}
	}
	fileMime := pgtype.Text{}
	if result.FileMimeType != "" {
		fileMime = pgtype.Text{String: result.FileMimeType, Valid: true}
	}

	if _, err := r.pool.Exec(
		ctx,
		`UPDATE export_jobs
		 SET status = $2, rows_exported = $3, bytes_written = $4, file_path = $5, file_mime_type = $6,
		     completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id,
		string(domain.ExportJobStatusCompleted),
		max(result.RowsExported, 0),
		max(result.BytesWritten, 0),
		filePath,
		fileMime,
	); err != nil {
		return fmt.Errorf("mark export job completed: %w", err)
	}
	return nil
}

func (r *exportJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	msg := pgtype.Text{}
	if errorMessage != "" {
		msg = pgtype.Text{String: errorMessage, Valid: true}
	}
	if _, err := r.pool.Exec(
		ctx,
		`UPDATE export_jobs SET status = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id,
		string(domain.ExportJobStatusFailed),
		msg,
	); err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return nil
}

func scanExportJob(row pgx.Row) (domain.ExportJob, error) {
	var (
		job          domain.ExportJob
		format       string
		status       string
		filePath     pgtype.Text
		fileMime     pgtype.Text
		errorMessage pgtype.Text
		startedAt    pgtype.Timestamptz
		completedAt  pgtype.Timestamptz
		rowsExported int32
	)
	if err := row.Scan(
		&job.ID,
		&job.RunID,
		&format,
		&rowsExported,
		&job.BytesWritten,
		&filePath,
		&fileMime,
		&status,
		&errorMessage,
		&job.EnqueuedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.ExportJob{}, err
	}

	job.Format = domain.ExportFormat(format)
	job.Status = domain.ExportJobStatus(status)
	job.RowsExported = int(rowsExported)
	job.FilePath = textPtr(filePath)
	job.FileMimeType = textPtr(fileMime)
	job.ErrorMessage = textPtr(errorMessage)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return job, nil
}

func textPtr(value pgtype.Text) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func timePtr(value pgtype.Timestamptz) *time.Time {
	if !value.Valid {
		return nil
	}
	out := value.Time
	return &out
}
