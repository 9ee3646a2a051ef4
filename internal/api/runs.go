package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/state"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "datafusion", "version": Version})
}

func (s *Server) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.Backend.Health(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

type startRunPayload struct {
	ActionKey  string `json:"actionKey"`
	SecureMode bool   `json:"secureMode"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var payload startRunPayload
	if err := decodeJSON(w, r, &payload, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.Runs.Create(r.Context(), domain.NewRun(payload.ActionKey, payload.SecureMode, s.now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Store.Open(run.ID, s.threshold)
	s.Logger.Info("run started", zap.String("run_id", run.ID.String()), zap.Bool("secure_mode", run.SecureMode))
	writeJSON(w, http.StatusCreated, run)
}

type completeRunPayload struct {
	Status string `json:"status"`
}

func (s *Server) handleCompleteRun(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var payload completeRunPayload
	if err := decodeJSON(w, r, &payload, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := domain.RunStatusCompleted
	switch strings.ToUpper(strings.TrimSpace(payload.Status)) {
	case "", string(domain.RunStatusCompleted):
	case string(domain.RunStatusFailed):
		status = domain.RunStatusFailed
	default:
		writeError(w, http.StatusBadRequest, "status must be COMPLETED or FAILED")
		return
	}
	run, err := s.Runs.Complete(r.Context(), runID, status, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Info("run completed", zap.String("run_id", run.ID.String()), zap.String("status", string(run.Status)))
	writeJSON(w, http.StatusOK, run)
}

// runView is a run plus a summary of its session.
type runView struct {
	domain.Run
	Threshold  float64                `json:"threshold"`
	Stats      domain.ThresholdStats  `json:"stats"`
	Approved   int                    `json:"approved"`
	Rejected   int                    `json:"rejected"`
	Pending    int                    `json:"pending"`
	Transforms []domain.TransformSpec `json:"transforms"`
	SourceRows int                    `json:"sourceRows"`
	HasPreview bool                   `json:"hasPreview"`
}

func (s *Server) view(run domain.Run, session state.AppState) runView {
	approved, rejected, pending := session.Decisions.Counts(session.Candidates)
	return runView{
		Run:        run,
		Threshold:  session.Threshold,
		Stats:      session.Stats(s.reviewSeconds),
		Approved:   approved,
		Rejected:   rejected,
		Pending:    pending,
		Transforms: session.Transforms,
		SourceRows: len(session.SourceRows),
		HasPreview: session.Preview != nil,
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.Runs.GetByID(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.session(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(run, session))
}

func (s *Server) handleIngestionLogs(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.IngestionLogs == nil {
		writeJSON(w, http.StatusOK, []domain.IngestionLogEntry{})
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.IngestionLogs.ListByRun(r.Context(), runID, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func pagination(r *http.Request) (int, int, error) {
	query := r.URL.Query()
	limit := 50
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, errBadLimit
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, errBadOffset
		}
		offset = parsed
	}
	return limit, offset, nil
}
