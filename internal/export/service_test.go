package export

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/repository"
)

type jobCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *jobCounter) ObserveExportJob(format, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[format+"/"+status]++
}

func newTestService(t *testing.T, opts ...Option) (*Service, *repository.MemoryExportJobRepository) {
	t.Helper()
	repo := repository.NewMemoryExportJobRepository()
	opts = append([]Option{WithExportDirectory(t.TempDir())}, opts...)
	return NewService(repo, zap.NewNop(), opts...), repo
}

func sampleRequest(format domain.ExportFormat) Request {
	return Request{
		RunID:   uuid.New(),
		Format:  format,
		Columns: []string{"account_id", "balance"},
		Rows: []map[string]any{
			{"account_id": "ACC001", "balance": 1250.5},
			{"account_id": "ACC002", "balance": nil},
		},
	}
}

func TestService_QueueCSVCompletes(t *testing.T) {
	recorder := &jobCounter{}
	service, _ := newTestService(t, WithRecorder(recorder))
	ctx := context.Background()

	job, err := service.Queue(ctx, sampleRequest(domain.ExportFormatCSV))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	service.Wait()

	done, err := service.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != domain.ExportJobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%v)", done.Status, done.ErrorMessage)
	}
	if done.RowsExported != 2 {
		t.Fatalf("expected 2 rows exported, got %d", done.RowsExported)
	}
	content, err := os.ReadFile(*done.FilePath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(content) != "account_id,balance\nACC001,1250.5\nACC002," {
		t.Fatalf("unexpected file content %q", content)
	}
	if recorder.counts["csv/completed"] != 1 {
		t.Fatalf("expected completion to be recorded, got %v", recorder.counts)
	}

	jobs, err := service.ListJobs(ctx, job.RunID)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one listed job, got %v (%v)", jobs, err)
	}
}

func TestService_QueueXLSXWritesSheet(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Queue(ctx, sampleRequest(domain.ExportFormatXLSX))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	service.Wait()

	done, _ := service.GetJob(ctx, job.ID)
	if done.Status != domain.ExportJobStatusCompleted {
		t.Fatalf("expected completed job, got %s", done.Status)
	}
	f, err := excelize.OpenFile(*done.FilePath)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "account_id" || rows[1][0] != "ACC001" {
		t.Fatalf("unexpected sheet rows %v", rows)
	}
}

func TestService_QueueRejectsEmptyColumns(t *testing.T) {
	service, _ := newTestService(t)
	req := sampleRequest(domain.ExportFormatCSV)
	req.Columns = nil
	if _, err := service.Queue(context.Background(), req); err != ErrNoColumns {
		t.Fatalf("expected ErrNoColumns, got %v", err)
	}
}

func TestDownloadSigner_RoundTrip(t *testing.T) {
	signer := newDownloadSigner(time.Minute)
	jobID := uuid.New()
	now := time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)

	token := signer.Sign(jobID, now)
	if err := signer.Verify(jobID, token, now.Add(30*time.Second)); err != nil {
		t.Fatalf("expected valid token: %v", err)
	}
	if err := signer.Verify(jobID, token, now.Add(2*time.Minute)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
	if err := signer.Verify(uuid.New(), token, now); err == nil {
		t.Fatalf("expected token for another job to be rejected")
	}
	if err := newDownloadSigner(time.Minute).Verify(jobID, token, now); err == nil {
		t.Fatalf("expected token from another signer to be rejected")
	}
}

func TestHandler_DownloadsCompletedExport(t *testing.T) {
	service, _ := newTestService(t)
	job, err := service.Queue(context.Background(), sampleRequest(domain.ExportFormatCSV))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	service.Wait()

	mux := http.NewServeMux()
	handler := NewHTTPHandler(service)
	mux.Handle("GET /api/v1/exports/{id}", handler)
	mux.Handle("GET /api/v1/exports/{id}/file", handler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+job.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	done, _ := service.GetJob(context.Background(), job.ID)
	download := service.BuildDownloadURL(done)
	if download == nil || !strings.Contains(rec.Body.String(), "download_url") {
		t.Fatalf("expected download url in %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, *download, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 download, got %d: %s", rec.Code, rec.Body.String())
	}
	body, _ := io.ReadAll(rec.Body)
	if !bytes.HasPrefix(body, []byte("account_id,balance")) {
		t.Fatalf("unexpected download body %q", body)
	}
	if rec.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+job.ID.String()+"/file?token=bogus", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad token, got %d", rec.Code)
	}
}

func TestHandler_UnknownJob(t *testing.T) {
	service, _ := newTestService(t)
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/exports/{id}", NewHTTPHandler(service))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+uuid.New().String(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestService_ShutdownWaitsForWorkers(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.Queue(context.Background(), sampleRequest(domain.ExportFormatCSV)); err != nil {
		t.Fatalf("queue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
