// Package export writes merged previews to CSV or XLSX files in the background and hands
// out short-lived signed download links for the finished files.
package export

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/repository"
)

var (
	errJobNotRunnable = errors.New("export job is no longer runnable")

	ErrNoColumns         = errors.New("export requires at least one column")
	ErrExportNotReady    = errors.New("export is not completed")
	ErrMissingExportFile = errors.New("export file is unavailable")
)

// JobRecorder observes export job outcomes.
type JobRecorder interface {
	ObserveExportJob(format, status string)
}

type Service struct {
	repo     repository.ExportJobRepository
	logger   *zap.Logger
	recorder JobRecorder

	exportDir  string
	jobTimeout time.Duration
	now        func() time.Time

	downloadSigner *downloadSigner

	workers       sync.WaitGroup
	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
}

type Option func(*Service)

func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.downloadSigner = newDownloadSigner(ttl)
		}
	}
}

func WithRecorder(recorder JobRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo repository.ExportJobRepository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		repo:       repo,
		logger:     logger,
		exportDir:  filepath.Join(os.TempDir(), "datafusion-exports"),
		jobTimeout: 5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.downloadSigner == nil {
		service.downloadSigner = newDownloadSigner(5 * time.Minute)
	}
	return service
}

// Request is a snapshot of the merged table to export.
type Request struct {
	RunID   uuid.UUID
	Format  domain.ExportFormat
	Columns []string
	Rows    []map[string]any
}

// Queue persists a pending job and writes the file in the background.
func (s *Service) Queue(ctx context.Context, req Request) (domain.ExportJob, error) {
	if req.RunID == uuid.Nil {
		return domain.ExportJob{}, errors.New("run ID is required")
	}
	if len(req.Columns) == 0 {
		return domain.ExportJob{}, ErrNoColumns
	}
	if req.Format == "" {
		req.Format = domain.ExportFormatCSV
	}
	persisted, err := s.repo.Create(ctx, domain.ExportJob{RunID: req.RunID, Format: req.Format})
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("create export job: %w", err)
	}
	snapshot := Request{
		RunID:   req.RunID,
		Format:  req.Format,
		Columns: append([]string(nil), req.Columns...),
		Rows:    append([]map[string]any(nil), req.Rows...),
	}
	s.launchWorker(persisted, snapshot)
	return persisted, nil
}

// GetJob returns the metadata for a single export job.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	if id == uuid.Nil {
		return domain.ExportJob{}, errors.New("job ID is required")
	}
	return s.repo.GetByID(ctx, id)
}

// ListJobs returns the run's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, runID uuid.UUID) ([]domain.ExportJob, error) {
	return s.repo.ListByRun(ctx, runID)
}

// BuildDownloadURL signs a short-lived download URL for completed export files.
func (s *Service) BuildDownloadURL(job domain.ExportJob) *string {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil
	}
	token := s.downloadSigner.Sign(job.ID, s.now())
	values := url.Values{}
	values.Set("token", token)
	download := fmt.Sprintf("/api/v1/exports/%s/file?%s", job.ID.String(), values.Encode())
	return &download
}

// ValidateDownloadToken ensures the token is valid for the given job.
func (s *Service) ValidateDownloadToken(jobID uuid.UUID, token string) error {
	return s.downloadSigner.Verify(jobID, token, s.now())
}

// OpenJobFile opens the completed export file for streaming to the client.
func (s *Service) OpenJobFile(job domain.ExportJob) (*os.File, error) {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil, ErrExportNotReady
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, ErrMissingExportFile
	}
	file, err := os.Open(*job.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// Wait blocks until every background job has finished.
func (s *Service) Wait() {
	s.workers.Wait()
}

// Shutdown cancels running jobs and waits for their workers to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.workerCancels.Range(func(_, value any) bool {
		if cancel, ok := value.(context.CancelFunc); ok {
			cancel()
		}
		return true
	})
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) launchWorker(job domain.ExportJob, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	s.workerCancels.Store(job.ID, cancel)
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer func() {
			cancel()
			s.workerCancels.Delete(job.ID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("export job panicked", zap.String("job_id", job.ID.String()), zap.Any("panic", rec))
				s.failJob(context.Background(), job, fmt.Errorf("panic: %v", rec))
			}
		}()
		if err := s.run(ctx, job, req); err != nil {
			switch {
			case errors.Is(err, errJobNotRunnable):
				s.logger.Debug("export job not runnable, skipping", zap.String("job_id", job.ID.String()))
			default:
				s.failJob(ctx, job, err)
			}
		}
	}()
}

func (s *Service) failJob(ctx context.Context, job domain.ExportJob, err error) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	s.observe(job.Format, domain.ExportJobStatusFailed)
	if markErr := s.repo.MarkFailed(ctx, job.ID, truncateError(err)); markErr != nil {
		s.logger.Error("mark export job failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(markErr),
			zap.NamedError("cause", err),
		)
		return
	}
	s.logger.Warn("export job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
}

func (s *Service) run(ctx context.Context, job domain.ExportJob, req Request) error {
	if err := s.repo.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			return errJobNotRunnable
		}
		return fmt.Errorf("mark export job running: %w", err)
	}

	var payload []byte
	switch job.Format {
	case domain.ExportFormatXLSX:
		encoded, err := ToXLSX(req.Columns, req.Rows)
		if err != nil {
			return err
		}
		payload = encoded
	default:
		payload = []byte(ToCSV(req.Columns, req.Rows))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	finalPath, err := s.writeFile(job, payload)
	if err != nil {
		return err
	}
	if err := s.repo.MarkCompleted(ctx, job.ID, repository.ExportResult{
		RowsExported: len(req.Rows),
		BytesWritten: int64(len(payload)),
		FilePath:     finalPath,
		FileMimeType: job.Format.MimeType(),
	}); err != nil {
		return fmt.Errorf("mark export completed: %w", err)
	}
	s.observe(job.Format, domain.ExportJobStatusCompleted)
	s.logger.Info("export job completed",
		zap.String("job_id", job.ID.String()),
		zap.String("format", string(job.Format)),
		zap.Int("rows", len(req.Rows)),
		zap.String("path", finalPath),
	)
	return nil
}

// writeFile writes payload to a temp file and renames it into place so readers never see
// a partial export.
func (s *Service) writeFile(job domain.ExportJob, payload []byte) (string, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure export directory: %w", err)
	}
	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("%s-*.tmp", job.ID))
	if err != nil {
		return "", fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(payload); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return "", fmt.Errorf("sync export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	finalPath := filepath.Join(s.exportDir, s.finalFileName(job))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", fmt.Errorf("promote export file: %w", err)
	}
	cleanup = false
	return finalPath, nil
}

func (s *Service) finalFileName(job domain.ExportJob) string {
	timestamp := s.now().UTC().Format("20060102-150405")
	return fmt.Sprintf("merged-%s-%s.%s", timestamp, job.ID.String()[:8], job.Format)
}

func (s *Service) observe(format domain.ExportFormat, status domain.ExportJobStatus) {
	if s.recorder != nil {
		s.recorder.ObserveExportJob(string(format), strings.ToLower(string(status)))
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}

type downloadSigner struct {
	secret []byte
	ttl    time.Duration
}

func newDownloadSigner(ttl time.Duration) *downloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &downloadSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *downloadSigner) Sign(jobID uuid.UUID, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", jobID.String(), expires)
	raw := fmt.Sprintf("%s:%s", payload, s.mac(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *downloadSigner) Verify(jobID uuid.UUID, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return errors.New("invalid token format")
	}
	if parts[0] != jobID.String() {
		return errors.New("token does not match export job")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("download token expired")
	}
	expected, _ := hex.DecodeString(s.mac(parts[0] + ":" + parts[1]))
	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("invalid download token")
	}
	return nil
}

func (s *downloadSigner) mac(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
