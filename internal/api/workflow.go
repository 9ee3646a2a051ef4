package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/backend"
	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/export"
	"github.com/rpattn/datafusion/internal/mapping"
	"github.com/rpattn/datafusion/internal/state"
	"github.com/rpattn/datafusion/internal/synthetic"
)

// maxExpandRows bounds ?expand= so a demo request cannot allocate without limit.
const maxExpandRows = 100_000

// handlePreview rebuilds the merge preview from the approved mappings, the transform
// pipeline and the uploaded rows. Each request takes a sequence number first; a build that
// settles after a newer one has been stored is discarded by the session.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expand := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("expand")); raw != "" {
		expand, err = strconv.Atoi(raw)
		if err != nil || expand < 0 || expand > maxExpandRows {
			writeError(w, http.StatusBadRequest, "expand must be between 0 and "+strconv.Itoa(maxExpandRows))
			return
		}
	}

	session, err := s.update(r.Context(), runID, state.BeginPreview())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	seq := session.PreviewSeq

	rows := session.SourceRows
	if expand > 0 {
		rows = synthetic.NewExpander(s.expandSeed).Expand(rows, expand)
	}
	preview := s.Builder.Build(mapping.WithTargetIdentity(session.ApprovedMappings()), session.Transforms, rows)
	preview.RunID = runID

	session, err = s.Store.Update(runID, state.WithPreview(seq, preview))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if session.PreviewApplied != seq {
		s.Logger.Debug("preview superseded", zap.String("run_id", runID.String()), zap.Uint64("seq", seq))
	}
	current := preview
	if session.Preview != nil {
		current = *session.Preview
	}
	writeJSON(w, http.StatusOK, current.Sample(s.sampleCap))
}

// handleMerge asks the backend to merge the uploaded files with the approved decisions.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
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
	files, _ := s.uploads.get(runID)
	approved := session.ApprovedMappings()
	resp, err := s.Backend.Merge(r.Context(), backend.MergeRequest{
		Files:      files,
		Decisions:  backend.MergeDecisionsFor(session.Candidates, approved, "bank_a", "bank_b"),
		Mappings:   mapping.WithTargetIdentity(approved),
		Transforms: session.Transforms,
		Rows:       session.SourceRows,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type validatePayload struct {
	Contract string `json:"contract"`
}

// handleValidate sends the current preview to the backend's data quality rules.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var payload validatePayload
	if err := decodeJSON(w, r, &payload, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Contract == "" {
		payload.Contract = "default"
	}
	session, err := s.session(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if session.Preview == nil {
		s.fail(w, r, errNoPreview)
		return
	}
	_, rows := export.PreviewTable(*session.Preview)
	resp, err := s.Backend.Validate(r.Context(), domain.ValidateRequest{Contract: payload.Contract, Rows: rows})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.Store.Update(runID, state.WithValidation(resp)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDocs generates mapping documentation for the approved mappings.
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
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
	resp, err := s.Backend.Docs(r.Context(), domain.DocsRequest{
		RunID:      runID.String(),
		Threshold:  session.Threshold,
		Mappings:   session.ApprovedMappings(),
		Transforms: session.Transforms,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.Store.Update(runID, state.WithDocs(resp)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDrift compares two profiles. When runId is given the report is also stored on
// that run's session.
func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	var req domain.DriftRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var runID uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("runId")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid runId")
			return
		}
		runID = parsed
	}
	resp, err := s.Backend.Drift(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runID != uuid.Nil {
		if _, err := s.update(r.Context(), runID, state.WithDrift(resp)); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type exportPayload struct {
	Format string `json:"format"`
}

// handleQueueExport snapshots the current preview into a background export job.
func (s *Server) handleQueueExport(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var payload exportPayload
	if err := decodeJSON(w, r, &payload, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, err := domain.ParseExportFormat(payload.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.session(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if session.Preview == nil {
		s.fail(w, r, errNoPreview)
		return
	}
	columns, rows := export.PreviewTable(*session.Preview)
	job, err := s.Exports.Queue(r.Context(), export.Request{
		RunID:   runID,
		Format:  format,
		Columns: columns,
		Rows:    rows,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Exports.View(job))
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.Exports.ListJobs(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]export.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, s.Exports.View(job))
	}
	writeJSON(w, http.StatusOK, views)
}
