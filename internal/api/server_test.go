package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/backend"
	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/export"
	"github.com/rpattn/datafusion/internal/ingestion"
	"github.com/rpattn/datafusion/internal/repository"
	"github.com/rpattn/datafusion/internal/state"
)

const bankACSV = "account_id,customer_email,balance,open_date\n" +
	"ACC001,john.doe@example.com,1250.50,2021-03-15\n" +
	"ACC002,,89234.12,2022-07-22\n"

const bankBCSV = "acct_number,email_address,current_balance,date_opened\n" +
	"B-001,alice@demo.com,12.99,2021-01-10\n"

type testEnv struct {
	server  *Server
	handler http.Handler
	exports *export.Service
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	fixture, err := backend.NewFixture()
	require.NoError(t, err)

	logs := repository.NewMemoryIngestionLogRepository()
	exports := export.NewService(repository.NewMemoryExportJobRepository(), zap.NewNop(),
		export.WithExportDirectory(t.TempDir()))
	t.Cleanup(exports.Wait)

	server := NewServer(Deps{
		Runs:          repository.NewMemoryRunRepository(),
		IngestionLogs: logs,
		Store:         state.NewStore(),
		Backend:       fixture,
		Ingestion:     ingestion.NewService(logs, zap.NewNop()),
		Exports:       exports,
		Logger:        zap.NewNop(),
	}, WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }))
	return testEnv{server: server, handler: server.Routes(), exports: exports}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) startRun(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/runs/start", map[string]any{"actionKey": "merge-banks"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	return run.ID.String()
}

func (e testEnv) upload(t *testing.T, runID string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for field, content := range map[string]string{"bankA": bankACSV, "bankB": bankBCSV} {
		part, err := writer.CreateFormFile(field, field+".csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+runID+"/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, Version, decode[map[string]string](t, rec)["version"])

	rec = env.do(t, http.MethodGet, "/api/v1/backend/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ey-datafusion", decode[domain.Health](t, rec).Service)
}

func TestWorkflowFromUploadToExport(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startRun(t)
	env.upload(t, runID)

	rec := env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/match", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	match := decode[matchResult](t, rec)
	require.Len(t, match.Candidates, 4)
	require.Equal(t, 3, match.Stats.AutoCount)
	require.Equal(t, 1, match.Stats.ReviewCount)
	for _, decision := range match.Decisions {
		require.Equal(t, string(domain.DecisionPending), decision)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/decisions/select-above", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decisions := decode[decisionsResult](t, rec)
	require.Len(t, decisions.Approved, 3)
	require.Equal(t, "customer_email->email_address", decisions.Approved[0].CandidateID)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/transforms", map[string]any{
		"targetColumn": "email_address",
		"kind":         "to_upper",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	transforms := decode[[]domain.TransformSpec](t, rec)
	require.Len(t, transforms, 1)
	require.True(t, transforms[0].Enabled)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[domain.MergePreview](t, rec)
	require.Equal(t, []string{"email_address", "current_balance", "date_opened"}, preview.Columns)
	require.Len(t, preview.Rows, 3)
	require.Equal(t, "JOHN.DOE@EXAMPLE.COM", preview.Rows[0]["email_address"].Value)
	require.Nil(t, preview.Rows[1]["email_address"].Value)
	require.Equal(t, "ALICE@DEMO.COM", preview.Rows[2]["email_address"].Value)
	require.Equal(t, domain.DatasetBankB, preview.Rows[2]["email_address"].Lineage[0].Dataset)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	validation := decode[domain.ValidateResponse](t, rec)
	require.Equal(t, 3, validation.Summary.Rows)
	require.Equal(t, 3, validation.Summary.Columns)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/docs", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	docs := decode[domain.DocsResponse](t, rec)
	require.Contains(t, docs.Markdown, "| customer_email | email_address |")

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/merge", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	merged := decode[domain.MergeResponse](t, rec)
	require.Equal(t, backend.ColumnSourceBank, merged.Columns[0])
	require.Len(t, merged.PreviewRows, 3)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/exports", map[string]string{"format": "csv"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[export.JobView](t, rec)
	env.exports.Wait()

	rec = env.do(t, http.MethodGet, "/api/v1/exports/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[export.JobView](t, rec)
	require.Equal(t, domain.ExportJobStatusCompleted, done.Status)
	require.Equal(t, 3, done.RowsExported)
	require.NotNil(t, done.DownloadURL)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/exports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]export.JobView](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[runView](t, rec)
	require.Equal(t, 3, view.Approved)
	require.Equal(t, 1, view.Pending)
	require.True(t, view.HasPreview)
	require.Equal(t, 3, view.SourceRows)
}

func TestDecisionsAndThreshold(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startRun(t)
	env.upload(t, runID)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/match", nil).Code)

	rec := env.do(t, http.MethodPut, "/api/v1/runs/"+runID+"/decisions/account_id->acct_number",
		map[string]string{"decision": "Approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "approved", decode[decisionsResult](t, rec).Decisions["account_id->acct_number"])

	rec = env.do(t, http.MethodPut, "/api/v1/runs/"+runID+"/decisions/missing",
		map[string]string{"decision": "approved"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/runs/"+runID+"/decisions/account_id->acct_number",
		map[string]string{"decision": "maybe"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/classify", map[string]float64{"threshold": 0.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[domain.ThresholdStats](t, rec)
	require.Equal(t, 4, stats.AutoCount)
	require.Equal(t, 0, stats.ReviewCount)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/classify", map[string]float64{"threshold": 1.5})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/decisions/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[decisionsResult](t, rec).Approved)
}

type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *callCounter) ObserveBackendRequest(op, _ string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[op]++
}

func TestMatchRejectsOutOfRangeThresholdBeforeBackend(t *testing.T) {
	env := newTestEnv(t)
	counter := &callCounter{}
	env.server.Backend = backend.Instrument(env.server.Backend, counter)
	runID := env.startRun(t)
	env.upload(t, runID)

	for _, threshold := range []float64{1.5, -0.1} {
		rec := env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/match", map[string]float64{"threshold": threshold})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
	require.Zero(t, counter.calls["match"])

	session, err := env.server.Store.Get(uuid.MustParse(runID))
	require.NoError(t, err)
	require.Empty(t, session.Candidates)

	rec := env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/match", map[string]float64{"threshold": 0.9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, counter.calls["match"])
}

func TestTransformEndpoints(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startRun(t)
	base := "/api/v1/runs/" + runID + "/transforms"

	rec := env.do(t, http.MethodPut, base, []map[string]any{
		{"targetColumn": "full_name", "kind": "concat", "inputs": []string{"first", "last"}},
		{"targetColumn": "full_name", "kind": "to_title", "enabled": false},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	specs := decode[[]domain.TransformSpec](t, rec)
	require.Len(t, specs, 2)
	require.False(t, specs[1].Enabled)

	rec = env.do(t, http.MethodPatch, base+"/"+specs[1].ID.String(), map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[[]domain.TransformSpec](t, rec)[1].Enabled)

	rec = env.do(t, http.MethodDelete, base+"/"+specs[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	remaining := decode[[]domain.TransformSpec](t, rec)
	require.Len(t, remaining, 1)
	require.Equal(t, specs[1].ID, remaining[0].ID)

	rec = env.do(t, http.MethodDelete, base+"/"+specs[0].ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, base, map[string]any{"targetColumn": "x", "kind": "concat"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewExpandAndSampleCap(t *testing.T) {
	env := newTestEnv(t)
	env.server.sampleCap = 5
	runID := env.startRun(t)
	env.upload(t, runID)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/match", nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/decisions/select-above", nil).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/preview?expand=12", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode[domain.MergePreview](t, rec).Rows, 5)

	session, err := env.server.Store.Get(uuid.MustParse(runID))
	require.NoError(t, err)
	require.Len(t, session.Preview.Rows, 12)
	require.Equal(t, uint64(1), session.PreviewApplied)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/preview?expand=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreconditionErrors(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startRun(t)

	rec := env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/profile", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/validate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/exports", map[string]string{"format": "csv"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/exports", map[string]string{"format": "pdf"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/00000000-0000-0000-0000-000000000001", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/ingestion-logs?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDriftCheckStoresReportOnRun(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startRun(t)

	baseline := map[string]domain.TableProfile{"accounts": {Columns: []domain.ColumnProfile{{Name: "balance", DType: "integer"}}}}
	current := map[string]domain.TableProfile{"accounts": {Columns: []domain.ColumnProfile{{Name: "balance", DType: "number"}}}}
	rec := env.do(t, http.MethodPost, "/api/v1/drift/check?runId="+runID, domain.DriftRequest{Baseline: baseline, Current: current})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[domain.DriftResponse](t, rec)
	require.Equal(t, domain.SeverityCritical, report.Severity)
	require.Len(t, report.Changes, 1)
	require.Equal(t, domain.DriftTypeChanged, report.Changes[0].Type)

	session, err := env.server.Store.Get(uuid.MustParse(runID))
	require.NoError(t, err)
	require.NotNil(t, session.Drift)

	rec = env.do(t, http.MethodPost, "/api/v1/drift/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.SeverityWarning, decode[domain.DriftResponse](t, rec).Severity)
}

func TestCompleteRun(t *testing.T) {
	env := newTestEnv(t)
	runID := env.startRun(t)

	rec := env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/complete", map[string]string{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[domain.Run](t, rec)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
}
