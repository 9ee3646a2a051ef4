package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/datafusion/internal/domain"

	"github.com/google/uuid"
)

// MemoryRunRepository keeps runs in process memory. It is used when no database is configured.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]domain.Run
}

// NewMemoryRunRepository constructs an empty in-memory run store.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[uuid.UUID]domain.Run)}
}

func (r *MemoryRunRepository) Create(_ context.Context, run domain.Run) (domain.Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return run, nil
}

func (r *MemoryRunRepository) GetByID(_ context.Context, id uuid.UUID) (domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}
	return run, nil
}

func (r *MemoryRunRepository) Complete(_ context.Context, id uuid.UUID, status domain.RunStatus, completedAt time.Time) (domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}
	run.Status = status
	completed := completedAt.UTC()
	run.CompletedAt = &completed
	r.runs[id] = run
	return run, nil
}

// MemoryExportJobRepository keeps export jobs in process memory.
type MemoryExportJobRepository struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]domain.ExportJob
	now  func() time.Time
}

// NewMemoryExportJobRepository constructs an empty in-memory export job store.
func NewMemoryExportJobRepository() *MemoryExportJobRepository {
	return &MemoryExportJobRepository{
		jobs: make(map[uuid.UUID]domain.ExportJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryExportJobRepository) Create(_ context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := r.now()
	job.Status = domain.ExportJobStatusPending
	job.EnqueuedAt = now
	job.UpdatedAt = now
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return job, nil
}

func (r *MemoryExportJobRepository) GetByID(_ context.Context, id uuid.UUID) (domain.ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ExportJob{}, ErrExportJobNotFound
	}
	return job, nil
}

func (r *MemoryExportJobRepository) ListByRun(_ context.Context, runID uuid.UUID) ([]domain.ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := []domain.ExportJob{}
	for _, job := range r.jobs {
		if job.RunID == runID {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].EnqueuedAt.After(jobs[j].EnqueuedAt)
	})
	return jobs, nil
}

func (r *MemoryExportJobRepository) MarkRunning(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrExportJobNotFound
	}
	if job.Status != domain.ExportJobStatusPending {
		return ErrExportJobStatusConflict
	}
	now := r.now()
	job.Status = domain.ExportJobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	r.jobs[id] = job
	return nil
}

func (r *MemoryExportJobRepository) MarkCompleted(_ context.Context, id uuid.UUID, result ExportResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrExportJobNotFound
	}
	now := r.now()
	job.Status = domain.ExportJobStatusCompleted
	job.RowsExported = max(result.RowsExported, 0)
	job.BytesWritten = max(result.BytesWritten, 0)
	if result.FilePath != "" {
		path := result.FilePath
		job.FilePath = &path
	}
	if result.FileMimeType != "" {
		mime := result.FileMimeType
		job.FileMimeType = &mime
	}
	job.CompletedAt = &now
	job.UpdatedAt = now
	r.jobs[id] = job
	return nil
}

func (r *MemoryExportJobRepository) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrExportJobNotFound
	}
	now := r.now()
	job.Status = domain.ExportJobStatusFailed
	if errorMessage != "" {
		msg := errorMessage
		job.ErrorMessage = &msg
	}
	job.CompletedAt = &now
	job.UpdatedAt = now
	r.jobs[id] = job
	return nil
}

// MemoryIngestionLogRepository keeps ingestion issues in process memory.
type MemoryIngestionLogRepository struct {
	mu      sync.RWMutex
	entries []domain.IngestionLogEntry
}

// NewMemoryIngestionLogRepository constructs an empty in-memory ingestion log.
func NewMemoryIngestionLogRepository() *MemoryIngestionLogRepository {
	return &MemoryIngestionLogRepository{}
}

func (r *MemoryIngestionLogRepository) Record(_ context.Context, entry domain.IngestionLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryIngestionLogRepository) ListByRun(_ context.Context, runID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.IngestionLogEntry{}
	skipped := 0
	for _, entry := range r.entries {
		if entry.RunID != runID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, entry)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
