package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/state"
)

// transformPayload mirrors domain.TransformSpec with an optional enabled flag so new
// transforms default to enabled.
type transformPayload struct {
	ID           uuid.UUID               `json:"id"`
	TargetColumn string                  `json:"targetColumn"`
	Kind         domain.TransformKind    `json:"kind"`
	Inputs       []string                `json:"inputs"`
	Options      domain.TransformOptions `json:"options"`
	Enabled      *bool                   `json:"enabled"`
}

func (p transformPayload) spec() domain.TransformSpec {
	spec := domain.TransformSpec{
		ID:           p.ID,
		TargetColumn: p.TargetColumn,
		Kind:         p.Kind,
		Inputs:       p.Inputs,
		Options:      p.Options,
		Enabled:      true,
	}
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}
	if p.Enabled != nil {
		spec.Enabled = *p.Enabled
	}
	return spec
}

func (s *Server) handleListTransforms(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, session.Transforms)
}

func (s *Server) handleReplaceTransforms(w http.ResponseWriter, r *http.Request) {
	var payload []transformPayload
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	specs := make([]domain.TransformSpec, 0, len(payload))
	for _, p := range payload {
		specs = append(specs, p.spec())
	}
	s.applyTransformReducer(w, r, http.StatusOK, state.WithTransforms(specs))
}

func (s *Server) handleAddTransform(w http.ResponseWriter, r *http.Request) {
	var payload transformPayload
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyTransformReducer(w, r, http.StatusCreated, state.AddTransform(payload.spec()))
}

type togglePayload struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleToggleTransform(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("transformId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transform id")
		return
	}
	var payload togglePayload
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyTransformReducer(w, r, http.StatusOK, state.SetTransformEnabled(id, payload.Enabled))
}

func (s *Server) handleRemoveTransform(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("transformId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transform id")
		return
	}
	s.applyTransformReducer(w, r, http.StatusOK, state.RemoveTransform(id))
}

func (s *Server) applyTransformReducer(w http.ResponseWriter, r *http.Request, status int, reducer state.Reducer) {
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
	writeJSON(w, status, session.Transforms)
}
