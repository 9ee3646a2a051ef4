// Package state holds the per-run reconciliation session. AppState is a value; every
// change goes through a Reducer that returns a new state and leaves its input untouched.
package state

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/mapping"
)

var (
	ErrUnknownTransform = errors.New("unknown transform")
	ErrInvalidThreshold = errors.New("threshold must be within [0,1]")
)

// AppState is the single source of truth for one run.
type AppState struct {
	RunID      uuid.UUID                                   `json:"runId"`
	Threshold  float64                                     `json:"threshold"`
	Profiles   map[domain.DatasetTag]domain.DatasetProfile `json:"profiles,omitempty"`
	Candidates []domain.MappingCandidate                   `json:"candidates"`
	Decisions  mapping.Decisions                           `json:"decisions"`
	SourceRows []domain.SourceRow                          `json:"-"`
	Transforms []domain.TransformSpec                      `json:"transforms"`
	Preview    *domain.MergePreview                        `json:"-"`
	Validation *domain.ValidateResponse                    `json:"validation,omitempty"`
	Docs       *domain.DocsResponse                        `json:"docs,omitempty"`
	Drift      *domain.DriftResponse                       `json:"drift,omitempty"`

	// PreviewSeq is the last preview request issued, PreviewApplied the one on display.
	PreviewSeq     uint64 `json:"previewSeq"`
	PreviewApplied uint64 `json:"previewApplied"`
}

// New returns the initial state for a run.
func New(runID uuid.UUID, threshold float64) AppState {
	return AppState{
		RunID:      runID,
		Threshold:  threshold,
		Candidates: []domain.MappingCandidate{},
		Decisions:  mapping.Decisions{},
		SourceRows: []domain.SourceRow{},
		Transforms: []domain.TransformSpec{},
	}
}

// Stats classifies the current candidates at the current threshold.
func (s AppState) Stats(reviewSeconds int) domain.ThresholdStats {
	return mapping.ClassifyWithReviewTime(s.Candidates, s.Threshold, reviewSeconds)
}

// ApprovedMappings returns the mappings approved so far in candidate order.
func (s AppState) ApprovedMappings() []domain.ApprovedMapping {
	return mapping.ApprovedMappings(s.Candidates, s.Decisions)
}

// Reducer derives a new state from the previous one.
type Reducer func(AppState) (AppState, error)

// Apply runs reducers in order and stops at the first error, returning the input unchanged.
func Apply(s AppState, reducers ...Reducer) (AppState, error) {
	next := s
	for _, reduce := range reducers {
		var err error
		next, err = reduce(next)
		if err != nil {
			return s, err
		}
	}
	return next, nil
}

// WithProfile records the local profile of one uploaded dataset.
func WithProfile(dataset domain.DatasetTag, profile domain.DatasetProfile) Reducer {
	return func(s AppState) (AppState, error) {
		profiles := make(map[domain.DatasetTag]domain.DatasetProfile, len(s.Profiles)+1)
		for tag, p := range s.Profiles {
			profiles[tag] = p
		}
		profiles[dataset] = profile
		s.Profiles = profiles
		return s, nil
	}
}

// WithCandidates replaces the candidate list. Every decision goes back to pending.
func WithCandidates(candidates []domain.MappingCandidate) Reducer {
	return func(s AppState) (AppState, error) {
		s.Candidates = slices.Clone(candidates)
		if s.Candidates == nil {
			s.Candidates = []domain.MappingCandidate{}
		}
		s.Decisions = mapping.NewDecisions(s.Candidates)
		return s, nil
	}
}

// WithDecision sets the verdict for one candidate.
func WithDecision(candidateID string, decision domain.MappingDecision) Reducer {
	return func(s AppState) (AppState, error) {
		decisions, err := s.Decisions.Set(s.Candidates, candidateID, decision)
		if err != nil {
			return s, err
		}
		s.Decisions = decisions
		return s, nil
	}
}

// WithThreshold changes the auto-accept threshold. Decisions are left alone.
func WithThreshold(threshold float64) Reducer {
	return func(s AppState) (AppState, error) {
		if threshold < 0 || threshold > 1 {
			return s, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
		}
		s.Threshold = threshold
		return s, nil
	}
}

// SelectAboveThreshold approves every candidate at or above the current threshold and
// moves the rest to pending.
func SelectAboveThreshold() Reducer {
	return func(s AppState) (AppState, error) {
		s.Decisions = mapping.SelectAboveThreshold(s.Candidates, s.Threshold)
		return s, nil
	}
}

// ResetDecisions moves every candidate back to pending.
func ResetDecisions() Reducer {
	return func(s AppState) (AppState, error) {
		s.Decisions = mapping.ResetAll(s.Candidates)
		return s, nil
	}
}

// WithSourceRows replaces the rows of one dataset and keeps the other dataset's rows.
func WithSourceRows(dataset domain.DatasetTag, rows []domain.SourceRow) Reducer {
	return func(s AppState) (AppState, error) {
		next := make([]domain.SourceRow, 0, len(s.SourceRows)+len(rows))
		for _, row := range s.SourceRows {
			if row.Dataset != dataset {
				next = append(next, row)
			}
		}
		next = append(next, rows...)
		s.SourceRows = next
		return s, nil
	}
}

// WithTransforms replaces the transform pipeline after validating it.
func WithTransforms(transforms []domain.TransformSpec) Reducer {
	return func(s AppState) (AppState, error) {
		if err := domain.ValidateTransforms(transforms); err != nil {
			return s, err
		}
		s.Transforms = slices.Clone(transforms)
		if s.Transforms == nil {
			s.Transforms = []domain.TransformSpec{}
		}
		return s, nil
	}
}

// AddTransform appends spec to the pipeline.
func AddTransform(spec domain.TransformSpec) Reducer {
	return func(s AppState) (AppState, error) {
		if err := spec.Validate(); err != nil {
			return s, err
		}
		if spec.ID == uuid.Nil {
			spec.ID = uuid.New()
		}
		s.Transforms = append(slices.Clone(s.Transforms), spec)
		return s, nil
	}
}

// RemoveTransform drops the transform with id.
func RemoveTransform(id uuid.UUID) Reducer {
	return func(s AppState) (AppState, error) {
		idx := transformIndex(s.Transforms, id)
		if idx < 0 {
			return s, fmt.Errorf("%w: %s", ErrUnknownTransform, id)
		}
		s.Transforms = slices.Delete(slices.Clone(s.Transforms), idx, idx+1)
		return s, nil
	}
}

// SetTransformEnabled toggles the transform with id without changing its position.
func SetTransformEnabled(id uuid.UUID, enabled bool) Reducer {
	return func(s AppState) (AppState, error) {
		idx := transformIndex(s.Transforms, id)
		if idx < 0 {
			return s, fmt.Errorf("%w: %s", ErrUnknownTransform, id)
		}
		s.Transforms = slices.Clone(s.Transforms)
		s.Transforms[idx].Enabled = enabled
		return s, nil
	}
}

// BeginPreview issues a new preview sequence number. Read it from the returned state's
// PreviewSeq and pass it to WithPreview once the build settles.
func BeginPreview() Reducer {
	return func(s AppState) (AppState, error) {
		s.PreviewSeq++
		return s, nil
	}
}

// WithPreview stores preview when seq is newer than the one on display. Results of
// superseded requests that settle late are dropped.
func WithPreview(seq uint64, preview domain.MergePreview) Reducer {
	return func(s AppState) (AppState, error) {
		if seq <= s.PreviewApplied {
			return s, nil
		}
		s.Preview = &preview
		s.PreviewApplied = seq
		return s, nil
	}
}

// WithValidation stores the latest validation report.
func WithValidation(resp domain.ValidateResponse) Reducer {
	return func(s AppState) (AppState, error) {
		s.Validation = &resp
		return s, nil
	}
}

// WithDocs stores the latest generated documentation.
func WithDocs(resp domain.DocsResponse) Reducer {
	return func(s AppState) (AppState, error) {
		s.Docs = &resp
		return s, nil
	}
}

// WithDrift stores the latest drift report.
func WithDrift(resp domain.DriftResponse) Reducer {
	return func(s AppState) (AppState, error) {
		s.Drift = &resp
		return s, nil
	}
}

func transformIndex(transforms []domain.TransformSpec, id uuid.UUID) int {
	return slices.IndexFunc(transforms, func(t domain.TransformSpec) bool { return t.ID == id })
}
