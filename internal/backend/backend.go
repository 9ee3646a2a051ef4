// Package backend defines the contract with the profiling and matching service and ships
// two implementations: an HTTP client and an embedded fixture backend for offline runs.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/datafusion/internal/domain"
)

// File is one uploaded dataset forwarded to the backend as a multipart part.
type File struct {
	Name string
	Data []byte
}

// MergeRequest carries the decisions sent to POST /merge. Mappings, Transforms and Rows
// are only consulted by backends that build the merge locally.
type MergeRequest struct {
	Files      []File
	Decisions  []domain.MergeDecision
	Mappings   []domain.ApprovedMapping
	Transforms []domain.TransformSpec
	Rows       []domain.SourceRow
}

// DataBackend is the typed surface of the external service. Every response has been
// validated before it is returned.
type DataBackend interface {
	Health(ctx context.Context) (domain.Health, error)
	Profile(ctx context.Context, files []File) (domain.ProfileResponse, error)
	Match(ctx context.Context, left, right File, threshold *float64) (domain.MatchResponse, error)
	Merge(ctx context.Context, req MergeRequest) (domain.MergeResponse, error)
	Validate(ctx context.Context, req domain.ValidateRequest) (domain.ValidateResponse, error)
	Docs(ctx context.Context, req domain.DocsRequest) (domain.DocsResponse, error)
	Drift(ctx context.Context, req domain.DriftRequest) (domain.DriftResponse, error)
}

// Mode selects the backend implementation.
type Mode string

const (
	ModeFixture Mode = "fixture"
	ModeHTTP    Mode = "http"
)

// ParseMode normalizes configuration input. Empty selects the fixture backend.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "fixture", "mock":
		return ModeFixture, nil
	case "http", "remote":
		return ModeHTTP, nil
	}
	return "", fmt.Errorf("unknown backend mode %q", raw)
}

// MergeDecisionsFor converts approved mappings into accept decisions for POST /merge.
// Confidence is looked up from the candidate the mapping came from.
func MergeDecisionsFor(candidates []domain.MappingCandidate, mappings []domain.ApprovedMapping, leftTable, rightTable string) []domain.MergeDecision {
	confidence := make(map[string]float64, len(candidates))
	for _, candidate := range candidates {
		confidence[candidate.ID] = candidate.Confidence
	}

	out := make([]domain.MergeDecision, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, domain.MergeDecision{
			LeftTable:   leftTable,
			LeftColumn:  m.FromColumn,
			RightTable:  rightTable,
			RightColumn: m.ToColumn,
			Decision:    domain.MergeAccept,
			Confidence:  confidence[m.CandidateID],
		})
	}
	return out
}
