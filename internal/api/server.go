// Package api exposes the reconciliation workflow over HTTP: runs, uploads, matching,
// mapping decisions, transforms, merge previews, quality checks and exports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/backend"
	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/export"
	"github.com/rpattn/datafusion/internal/ingestion"
	"github.com/rpattn/datafusion/internal/mapping"
	"github.com/rpattn/datafusion/internal/repository"
	"github.com/rpattn/datafusion/internal/state"
	"github.com/rpattn/datafusion/internal/transformations"
)

// Version is reported by /healthz.
const Version = "0.1.0"

const maxJSONBody = 16 << 20

// PreviewBuilder produces merge previews. Both transformations.Builder and
// transformations.CachedBuilder satisfy it.
type PreviewBuilder interface {
	Build(mappings []domain.ApprovedMapping, transforms []domain.TransformSpec, rows []domain.SourceRow) domain.MergePreview
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Runs          repository.RunRepository
	IngestionLogs repository.IngestionLogRepository
	Store         *state.Store
	Backend       backend.DataBackend
	Ingestion     *ingestion.Service
	Builder       PreviewBuilder
	Exports       *export.Service
	Metrics       http.Handler
	Logger        *zap.Logger
}

type Server struct {
	Deps

	threshold     float64
	reviewSeconds int
	sampleCap     int
	expandSeed    uint64
	now           func() time.Time

	uploads uploads
}

type Option func(*Server)

// WithThreshold sets the threshold new runs start with.
func WithThreshold(threshold float64) Option {
	return func(s *Server) {
		s.threshold = threshold
	}
}

func WithReviewSeconds(seconds int) Option {
	return func(s *Server) {
		s.reviewSeconds = seconds
	}
}

// WithSampleCap limits the rows returned by the preview endpoint. Zero disables the cap.
func WithSampleCap(limit int) Option {
	return func(s *Server) {
		s.sampleCap = limit
	}
}

// WithExpandSeed seeds the synthetic row expander used by ?expand= on previews.
func WithExpandSeed(seed uint64) Option {
	return func(s *Server) {
		s.expandSeed = seed
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func NewServer(deps Deps, opts ...Option) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = state.NewStore()
	}
	if deps.Builder == nil {
		deps.Builder = transformations.NewBuilder()
	}
	s := &Server{
		Deps:          deps,
		threshold:     mapping.DefaultThreshold,
		reviewSeconds: mapping.ReviewSecondsPerMapping,
		sampleCap:     200,
		expandSeed:    1,
		now:           time.Now,
		uploads:       uploads{files: make(map[uuid.UUID][]backend.File)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/backend/health", s.handleBackendHealth)

	mux.HandleFunc("POST /api/v1/runs/start", s.handleStartRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/complete", s.handleCompleteRun)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/ingestion-logs", s.handleIngestionLogs)

	if s.Ingestion != nil {
		mux.Handle("POST /api/v1/runs/{id}/upload", ingestion.NewHTTPHandler(s.Ingestion, s))
	}
	mux.HandleFunc("POST /api/v1/runs/{id}/profile", s.handleProfile)
	mux.HandleFunc("POST /api/v1/runs/{id}/match", s.handleMatch)
	mux.HandleFunc("POST /api/v1/runs/{id}/classify", s.handleClassify)

	mux.HandleFunc("GET /api/v1/runs/{id}/decisions", s.handleListDecisions)
	mux.HandleFunc("PUT /api/v1/runs/{id}/decisions/{candidateId}", s.handleSetDecision)
	mux.HandleFunc("POST /api/v1/runs/{id}/decisions/select-above", s.handleSelectAbove)
	mux.HandleFunc("POST /api/v1/runs/{id}/decisions/reset", s.handleResetDecisions)

	mux.HandleFunc("GET /api/v1/runs/{id}/transforms", s.handleListTransforms)
	mux.HandleFunc("PUT /api/v1/runs/{id}/transforms", s.handleReplaceTransforms)
	mux.HandleFunc("POST /api/v1/runs/{id}/transforms", s.handleAddTransform)
	mux.HandleFunc("PATCH /api/v1/runs/{id}/transforms/{transformId}", s.handleToggleTransform)
	mux.HandleFunc("DELETE /api/v1/runs/{id}/transforms/{transformId}", s.handleRemoveTransform)

	mux.HandleFunc("POST /api/v1/runs/{id}/preview", s.handlePreview)
	mux.HandleFunc("POST /api/v1/runs/{id}/merge", s.handleMerge)
	mux.HandleFunc("POST /api/v1/runs/{id}/validate", s.handleValidate)
	mux.HandleFunc("POST /api/v1/runs/{id}/docs", s.handleDocs)
	mux.HandleFunc("POST /api/v1/drift/check", s.handleDrift)

	if s.Exports != nil {
		mux.HandleFunc("POST /api/v1/runs/{id}/exports", s.handleQueueExport)
		mux.HandleFunc("GET /api/v1/runs/{id}/exports", s.handleListExports)
		exportHandler := export.NewHTTPHandler(s.Exports)
		mux.Handle("GET /api/v1/exports/{id}", exportHandler)
		mux.Handle("GET /api/v1/exports/{id}/file", exportHandler)
	}
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	return mux
}

// uploads keeps the raw files of each run so they can be forwarded to the backend.
type uploads struct {
	mu    sync.RWMutex
	files map[uuid.UUID][]backend.File
}

func (u *uploads) put(runID uuid.UUID, files []backend.File) {
	u.mu.Lock()
	u.files[runID] = files
	u.mu.Unlock()
}

func (u *uploads) get(runID uuid.UUID) ([]backend.File, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	files, ok := u.files[runID]
	return files, ok
}

var (
	errNoUpload  = errors.New("upload bank A and bank B files first")
	errNoPreview = errors.New("build a merge preview first")
	errBadLimit  = errors.New("limit must be a positive integer")
	errBadOffset = errors.New("offset must be a non-negative integer")
)

// AcceptUpload stores parsed rows and profiles on the run's session.
func (s *Server) AcceptUpload(ctx context.Context, runID uuid.UUID, pair ingestion.Pair) error {
	if _, err := s.session(ctx, runID); err != nil {
		return err
	}
	_, err := s.Store.Update(runID,
		state.WithProfile(domain.DatasetBankA, pair.BankA.Profile),
		state.WithProfile(domain.DatasetBankB, pair.BankB.Profile),
		state.WithSourceRows(domain.DatasetBankA, pair.BankA.Rows),
		state.WithSourceRows(domain.DatasetBankB, pair.BankB.Rows),
	)
	if err != nil {
		return err
	}
	s.uploads.put(runID, []backend.File{
		{Name: pair.BankA.FileName, Data: pair.BankA.Payload},
		{Name: pair.BankB.FileName, Data: pair.BankB.Payload},
	})
	s.Logger.Info("upload accepted",
		zap.String("run_id", runID.String()),
		zap.Int("bank_a_rows", len(pair.BankA.Rows)),
		zap.Int("bank_b_rows", len(pair.BankB.Rows)),
	)
	return nil
}

// session returns the run's state, opening a fresh session for runs that exist in the
// repository but not in memory, e.g. after a restart.
func (s *Server) session(ctx context.Context, runID uuid.UUID) (state.AppState, error) {
	current, err := s.Store.Get(runID)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, state.ErrSessionNotFound) {
		return state.AppState{}, err
	}
	if _, err := s.Runs.GetByID(ctx, runID); err != nil {
		return state.AppState{}, err
	}
	return s.Store.GetOrOpen(runID, s.threshold), nil
}

// update ensures the session exists and applies reducers to it.
func (s *Server) update(ctx context.Context, runID uuid.UUID, reducers ...state.Reducer) (state.AppState, error) {
	if _, err := s.session(ctx, runID); err != nil {
		return state.AppState{}, err
	}
	return s.Store.Update(runID, reducers...)
}

func runIDFrom(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run id: %w", err)
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// statusFor maps domain and collaborator errors onto HTTP status codes.
func statusFor(err error) int {
	var httpErr *backend.HTTPError
	switch {
	case errors.Is(err, state.ErrSessionNotFound),
		errors.Is(err, repository.ErrRunNotFound),
		errors.Is(err, repository.ErrExportJobNotFound),
		errors.Is(err, mapping.ErrUnknownCandidate),
		errors.Is(err, state.ErrUnknownTransform):
		return http.StatusNotFound
	case errors.Is(err, mapping.ErrInvalidDecision),
		errors.Is(err, domain.ErrInvalidTransform),
		errors.Is(err, state.ErrInvalidThreshold),
		errors.Is(err, export.ErrNoColumns):
		return http.StatusBadRequest
	case errors.Is(err, errNoUpload), errors.Is(err, errNoPreview):
		return http.StatusConflict
	case errors.As(err, &httpErr), errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
