package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/state"
)

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.session(r.Context(), runID); err != nil {
		s.fail(w, r, err)
		return
	}
	files, ok := s.uploads.get(runID)
	if !ok {
		s.fail(w, r, errNoUpload)
		return
	}
	resp, err := s.Backend.Profile(r.Context(), files)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type matchPayload struct {
	Threshold *float64 `json:"threshold"`
}

type matchResult struct {
	Candidates []domain.MappingCandidate `json:"candidates"`
	Decisions  map[string]string         `json:"decisions"`
	Stats      domain.ThresholdStats     `json:"stats"`
	Match      domain.MatchResponse      `json:"match"`
}

// handleMatch asks the backend for candidates and replaces the session's candidate list.
// Every decision starts over at pending.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var payload matchPayload
	if err := decodeJSON(w, r, &payload, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.session(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	files, ok := s.uploads.get(runID)
	if !ok || len(files) < 2 {
		s.fail(w, r, errNoUpload)
		return
	}
	threshold := session.Threshold
	if payload.Threshold != nil {
		threshold = *payload.Threshold
	}
	if _, err := state.WithThreshold(threshold)(session); err != nil {
		s.fail(w, r, err)
		return
	}

	resp, err := s.Backend.Match(r.Context(), files[0], files[1], &threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	session, err = s.update(r.Context(), runID, state.WithThreshold(threshold), state.WithCandidates(resp.MappingCandidates()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Info("match completed",
		zap.String("run_id", runID.String()),
		zap.Int("candidates", len(session.Candidates)),
		zap.Float64("threshold", threshold),
	)
	writeJSON(w, http.StatusOK, matchResult{
		Candidates: session.Candidates,
		Decisions:  decisionStrings(session),
		Stats:      session.Stats(s.reviewSeconds),
		Match:      resp,
	})
}

type classifyPayload struct {
	Threshold float64 `json:"threshold"`
}

// handleClassify moves the threshold and returns the new split. Decisions and the
// current preview are left untouched.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var payload classifyPayload
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.update(r.Context(), runID, state.WithThreshold(payload.Threshold))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Stats(s.reviewSeconds))
}

type decisionsResult struct {
	Threshold float64                  `json:"threshold"`
	Decisions map[string]string        `json:"decisions"`
	Approved  []domain.ApprovedMapping `json:"approvedMappings"`
	Stats     domain.ThresholdStats    `json:"stats"`
}

func (s *Server) decisionsView(session state.AppState) decisionsResult {
	return decisionsResult{
		Threshold: session.Threshold,
		Decisions: decisionStrings(session),
		Approved:  session.ApprovedMappings(),
		Stats:     session.Stats(s.reviewSeconds),
	}
}

func decisionStrings(session state.AppState) map[string]string {
	out := make(map[string]string, len(session.Candidates))
	for _, candidate := range session.Candidates {
		out[candidate.ID] = string(session.Decisions.Get(candidate.ID))
	}
	return out
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.session(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.decisionsView(session))
}

type decisionPayload struct {
	Decision string `json:"decision"`
}

func (s *Server) handleSetDecision(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var payload decisionPayload
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	decision := domain.MappingDecision(strings.ToLower(strings.TrimSpace(payload.Decision)))
	session, err := s.update(r.Context(), runID, state.WithDecision(r.PathValue("candidateId"), decision))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.decisionsView(session))
}

func (s *Server) handleSelectAbove(w http.ResponseWriter, r *http.Request) {
	s.applyDecisionReducer(w, r, state.SelectAboveThreshold())
}

func (s *Server) handleResetDecisions(w http.ResponseWriter, r *http.Request) {
	s.applyDecisionReducer(w, r, state.ResetDecisions())
}

func (s *Server) applyDecisionReducer(w http.ResponseWriter, r *http.Request, reducer state.Reducer) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.update(r.Context(), runID, reducer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.decisionsView(session))
}
