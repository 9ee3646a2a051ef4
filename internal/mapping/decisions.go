package mapping

import (
	"errors"
	"fmt"

	"github.com/rpattn/datafusion/internal/domain"
)

// ErrUnknownCandidate is returned when a decision targets a candidate that is not present.
var ErrUnknownCandidate = errors.New("unknown mapping candidate")

// ErrInvalidDecision is returned for decision values outside pending/approved/rejected.
var ErrInvalidDecision = errors.New("invalid mapping decision")

// Decisions maps candidate IDs to the user's verdict.
type Decisions map[string]domain.MappingDecision

// NewDecisions marks every candidate pending.
func NewDecisions(candidates []domain.MappingCandidate) Decisions {
	out := make(Decisions, len(candidates))
	for _, candidate := range candidates {
		out[candidate.ID] = domain.DecisionPending
	}
	return out
}

// Get returns the decision for id, defaulting to pending.
func (d Decisions) Get(id string) domain.MappingDecision {
	if decision, ok := d[id]; ok {
		return decision
	}
	return domain.DecisionPending
}

func (d Decisions) clone() Decisions {
	out := make(Decisions, len(d))
	for id, decision := range d {
		out[id] = decision
	}
	return out
}

// Set returns a copy with the candidate moved to decision. Any state may move to pending;
// approved and rejected are reachable from any state through an explicit user action.
func (d Decisions) Set(candidates []domain.MappingCandidate, id string, decision domain.MappingDecision) (Decisions, error) {
	if !decision.Valid() {
		return d, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if !containsCandidate(candidates, id) {
		return d, fmt.Errorf("%w: %s", ErrUnknownCandidate, id)
	}
	out := d.clone()
	out[id] = decision
	return out, nil
}

// Approve moves the candidate to approved.
func (d Decisions) Approve(candidates []domain.MappingCandidate, id string) (Decisions, error) {
	return d.Set(candidates, id, domain.DecisionApproved)
}

// Reject moves the candidate to rejected.
func (d Decisions) Reject(candidates []domain.MappingCandidate, id string) (Decisions, error) {
	return d.Set(candidates, id, domain.DecisionRejected)
}

// Reset moves the candidate back to pending.
func (d Decisions) Reset(candidates []domain.MappingCandidate, id string) (Decisions, error) {
	return d.Set(candidates, id, domain.DecisionPending)
}

// SelectAboveThreshold approves every candidate at or above threshold and moves every
// other candidate to pending, overwriting earlier manual verdicts.
func SelectAboveThreshold(candidates []domain.MappingCandidate, threshold float64) Decisions {
	out := make(Decisions, len(candidates))
	for _, candidate := range candidates {
		if IsAuto(candidate, threshold) {
			out[candidate.ID] = domain.DecisionApproved
			continue
		}
		out[candidate.ID] = domain.DecisionPending
	}
	return out
}

// ResetAll moves every candidate to pending.
func ResetAll(candidates []domain.MappingCandidate) Decisions {
	return NewDecisions(candidates)
}

// Counts tallies decisions over the candidate list.
func (d Decisions) Counts(candidates []domain.MappingCandidate) (approved, rejected, pending int) {
	for _, candidate := range candidates {
		switch d.Get(candidate.ID) {
		case domain.DecisionApproved:
			approved++
		case domain.DecisionRejected:
			rejected++
		default:
			pending++
		}
	}
	return approved, rejected, pending
}

// ApprovedMappings lists the approved candidates as mappings, in candidate order.
func ApprovedMappings(candidates []domain.MappingCandidate, decisions Decisions) []domain.ApprovedMapping {
	var out []domain.ApprovedMapping
	for _, candidate := range candidates {
		if decisions.Get(candidate.ID) != domain.DecisionApproved {
			continue
		}
		out = append(out, domain.ApprovedMapping{
			CandidateID: candidate.ID,
			FromColumn:  candidate.FromColumn,
			ToColumn:    candidate.ToColumn,
		})
	}
	return out
}

// WithTargetIdentity appends a target-to-target mapping for every distinct target so rows
// that already use target column names resolve. Existing mappings keep precedence.
func WithTargetIdentity(mappings []domain.ApprovedMapping) []domain.ApprovedMapping {
	out := append([]domain.ApprovedMapping(nil), mappings...)
	seen := make(map[string]struct{}, len(mappings))
	for _, mapping := range mappings {
		if mapping.FromColumn == mapping.ToColumn {
			seen[mapping.ToColumn] = struct{}{}
		}
	}
	for _, mapping := range mappings {
		if _, ok := seen[mapping.ToColumn]; ok {
			continue
		}
		seen[mapping.ToColumn] = struct{}{}
		out = append(out, domain.ApprovedMapping{FromColumn: mapping.ToColumn, ToColumn: mapping.ToColumn})
	}
	return out
}

func containsCandidate(candidates []domain.MappingCandidate, id string) bool {
	for _, candidate := range candidates {
		if candidate.ID == id {
			return true
		}
	}
	return false
}
