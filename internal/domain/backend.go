package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned when a backend payload fails boundary validation.
var ErrInvalidPayload = errors.New("invalid backend payload")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// ColumnProfile is the backend's statistical description of one column.
type ColumnProfile struct {
	Name               string   `json:"name" yaml:"name"`
	DType              string   `json:"dtype" yaml:"dtype"`
	Nullable           bool     `json:"nullable" yaml:"nullable"`
	NullCount          int      `json:"null_count" yaml:"null_count"`
	UniqueCountSampled int      `json:"unique_count_sampled" yaml:"unique_count_sampled"`
	Examples           []string `json:"examples" yaml:"examples"`
	SemanticTags       []string `json:"semantic_tags" yaml:"semantic_tags"`
}

// TableProfile is the backend's profile of one uploaded table.
type TableProfile struct {
	Table                       string          `json:"table" yaml:"table"`
	RowCount                    int             `json:"row_count" yaml:"row_count"`
	Columns                     []ColumnProfile `json:"columns" yaml:"columns"`
	CandidatePrimaryKeysSampled []string        `json:"candidate_primary_keys_sampled" yaml:"candidate_primary_keys_sampled"`
}

// ProfileResponse is returned by POST /profile.
type ProfileResponse struct {
	Profiles       map[string]TableProfile `json:"profiles" yaml:"profiles"`
	ExamplesMasked bool                    `json:"examples_masked,omitempty" yaml:"examples_masked,omitempty"`
}

var knownDTypes = map[string]struct{}{
	"integer": {}, "number": {}, "boolean": {}, "datetime": {}, "string": {},
}

func (p ProfileResponse) Validate() error {
	if p.Profiles == nil {
		return invalidf("profiles missing")
	}
	for file, table := range p.Profiles {
		if table.RowCount < 0 {
			return invalidf("profile %s: negative row_count", file)
		}
		for _, col := range table.Columns {
			if strings.TrimSpace(col.Name) == "" {
				return invalidf("profile %s: column without name", file)
			}
			if _, ok := knownDTypes[col.DType]; !ok {
				return invalidf("profile %s: column %s has unknown dtype %q", file, col.Name, col.DType)
			}
		}
	}
	return nil
}

// MatchScores carries the per signal similarity scores behind a candidate.
type MatchScores struct {
	Name         float64 `json:"name" yaml:"name"`
	Type         float64 `json:"type" yaml:"type"`
	ValueOverlap float64 `json:"value_overlap" yaml:"value_overlap"`
	Embedding    float64 `json:"embedding" yaml:"embedding"`
}

// MatchExplain holds example values from both sides.
type MatchExplain struct {
	LeftExamples  []string `json:"left_examples" yaml:"left_examples"`
	RightExamples []string `json:"right_examples" yaml:"right_examples"`
}

// MatchDecision is the backend's auto/review verdict.
type MatchDecision string

const (
	MatchAuto   MatchDecision = "auto"
	MatchReview MatchDecision = "review"
)

// MatchCandidate is a ranked column pair returned by POST /match.
type MatchCandidate struct {
	LeftColumn  string        `json:"left_column" yaml:"left_column"`
	RightColumn string        `json:"right_column" yaml:"right_column"`
	Scores      MatchScores   `json:"scores" yaml:"scores"`
	Confidence  float64       `json:"confidence" yaml:"confidence"`
	Decision    MatchDecision `json:"decision" yaml:"decision"`
	Reasons     []string      `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Warnings    []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Explain     *MatchExplain `json:"explain,omitempty" yaml:"explain,omitempty"`
}

// MatchStats aggregates the candidate split computed by the backend.
type MatchStats struct {
	TotalPairs            int `json:"total_pairs" yaml:"total_pairs"`
	AutoCount             int `json:"auto_count" yaml:"auto_count"`
	ReviewCount           int `json:"review_count" yaml:"review_count"`
	AutoPct               int `json:"auto_pct" yaml:"auto_pct"`
	EstimatedMinutesSaved int `json:"estimated_minutes_saved" yaml:"estimated_minutes_saved"`
}

// MatchResponse is returned by POST /match.
type MatchResponse struct {
	Candidates []MatchCandidate `json:"candidates" yaml:"candidates"`
	Threshold  *float64         `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	RunID      string           `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Stats      *MatchStats      `json:"stats,omitempty" yaml:"stats,omitempty"`
}

func (m MatchResponse) Validate() error {
	for idx, c := range m.Candidates {
		if strings.TrimSpace(c.LeftColumn) == "" || strings.TrimSpace(c.RightColumn) == "" {
			return invalidf("candidate %d: left_column and right_column are required", idx)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return invalidf("candidate %d: confidence %v outside [0,1]", idx, c.Confidence)
		}
		if c.Decision != MatchAuto && c.Decision != MatchReview {
			return invalidf("candidate %d: unknown decision %q", idx, c.Decision)
		}
	}
	if m.Threshold != nil && (*m.Threshold < 0 || *m.Threshold > 1) {
		return invalidf("threshold %v outside [0,1]", *m.Threshold)
	}
	return nil
}

// MappingCandidates converts backend candidates into the UI candidate model.
// IDs are derived from the column pair so repeated matches keep stable identifiers.
func (m MatchResponse) MappingCandidates() []MappingCandidate {
	out := make([]MappingCandidate, 0, len(m.Candidates))
	for _, c := range m.Candidates {
		candidate := MappingCandidate{
			ID:           fmt.Sprintf("%s->%s", c.LeftColumn, c.RightColumn),
			FromDataset:  DatasetBankA,
			ToDataset:    DatasetBankB,
			FromColumn:   c.LeftColumn,
			ToColumn:     c.RightColumn,
			Confidence:   c.Confidence,
			Reasons:      []MatchReason{},
			ExamplePairs: []ExamplePair{},
		}
		for _, reason := range c.Reasons {
			candidate.Reasons = append(candidate.Reasons, MatchReason{Title: reason})
		}
		if c.Explain != nil {
			for i := 0; i < len(c.Explain.LeftExamples) && i < len(c.Explain.RightExamples) && i < 3; i++ {
				candidate.ExamplePairs = append(candidate.ExamplePairs, ExamplePair{
					From: c.Explain.LeftExamples[i],
					To:   c.Explain.RightExamples[i],
				})
			}
		}
		out = append(out, candidate)
	}
	return out
}

// TransformOp is one backend side transform step.
type TransformOp struct {
	Op   string         `json:"op"`
	Args map[string]any `json:"args,omitempty"`
}

// MergeDecisionKind is the verdict sent to the backend for a column pair.
type MergeDecisionKind string

const (
	MergeAccept MergeDecisionKind = "accept"
	MergeReject MergeDecisionKind = "reject"
	MergeManual MergeDecisionKind = "manual"
	MergeAuto   MergeDecisionKind = "auto"
)

// MergeDecision is the JSON decision payload for POST /merge.
type MergeDecision struct {
	LeftTable    string            `json:"left_table"`
	LeftColumn   string            `json:"left_column"`
	RightTable   string            `json:"right_table"`
	RightColumn  string            `json:"right_column"`
	Decision     MergeDecisionKind `json:"decision"`
	Confidence   float64           `json:"confidence"`
	TransformOps []TransformOp     `json:"transform_ops,omitempty"`
}

// MergeResponse is returned by POST /merge.
type MergeResponse struct {
	Columns     []string         `json:"columns" yaml:"columns"`
	PreviewRows []map[string]any `json:"preview_rows" yaml:"preview_rows"`
}

func (m MergeResponse) Validate() error {
	if m.Columns == nil {
		return invalidf("merge columns missing")
	}
	return nil
}

// Severity levels used by validation and drift payloads.
const (
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
	SeverityCritical = "critical"
)

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	Contract string           `json:"contract_name"`
	Rows     []map[string]any `json:"preview_rows"`
}

// ValidationViolation is one failed data quality rule.
type ValidationViolation struct {
	Rule     string `json:"rule" yaml:"rule"`
	Count    int    `json:"count" yaml:"count"`
	Severity string `json:"severity" yaml:"severity"`
	Sample   []int  `json:"sample" yaml:"sample"`
}

// ValidationSummary aggregates the validated table shape.
type ValidationSummary struct {
	Rows     int `json:"rows" yaml:"rows"`
	Columns  int `json:"columns" yaml:"columns"`
	Warnings int `json:"warnings" yaml:"warnings"`
}

// ValidateResponse is returned by POST /validate.
type ValidateResponse struct {
	Status     string                `json:"status" yaml:"status"`
	Violations []ValidationViolation `json:"violations" yaml:"violations"`
	Summary    ValidationSummary     `json:"summary" yaml:"summary"`
}

func (v ValidateResponse) Validate() error {
	if v.Status != "pass" && v.Status != "fail" {
		return invalidf("unknown validation status %q", v.Status)
	}
	for _, violation := range v.Violations {
		if violation.Severity != SeverityError && violation.Severity != SeverityWarning {
			return invalidf("rule %s: unknown severity %q", violation.Rule, violation.Severity)
		}
		if violation.Count < 0 {
			return invalidf("rule %s: negative count", violation.Rule)
		}
	}
	return nil
}

// DocsRequest is the mapping manifest sent to POST /docs.
type DocsRequest struct {
	RunID      string            `json:"run_id"`
	Threshold  float64           `json:"threshold"`
	Mappings   []ApprovedMapping `json:"mappings"`
	Transforms []TransformSpec   `json:"transforms"`
}

// DocsResponse carries generated documentation artifacts.
type DocsResponse struct {
	Markdown string `json:"markdown" yaml:"markdown"`
	JSON     string `json:"json" yaml:"json"`
}

func (d DocsResponse) Validate() error {
	if strings.TrimSpace(d.Markdown) == "" && strings.TrimSpace(d.JSON) == "" {
		return invalidf("docs response is empty")
	}
	return nil
}

// DriftRequest compares a baseline profile with a current one.
type DriftRequest struct {
	Baseline map[string]TableProfile `json:"baseline"`
	Current  map[string]TableProfile `json:"current"`
}

// DriftChangeType enumerates the schema drift change kinds.
type DriftChangeType string

const (
	DriftAdded         DriftChangeType = "added"
	DriftRemoved       DriftChangeType = "removed"
	DriftRenamed       DriftChangeType = "renamed"
	DriftTypeChanged   DriftChangeType = "type_changed"
	DriftNullRateDelta DriftChangeType = "nullrate_delta"
)

// DriftChange is one detected schema change.
type DriftChange struct {
	Type  DriftChangeType `json:"type" yaml:"type"`
	Col   string          `json:"col,omitempty" yaml:"col,omitempty"`
	From  string          `json:"from,omitempty" yaml:"from,omitempty"`
	To    string          `json:"to,omitempty" yaml:"to,omitempty"`
	Delta *float64        `json:"delta,omitempty" yaml:"delta,omitempty"`
	Prev  any             `json:"prev,omitempty" yaml:"prev,omitempty"`
	Curr  any             `json:"curr,omitempty" yaml:"curr,omitempty"`
}

// DriftResponse is returned by POST /drift/check.
type DriftResponse struct {
	Changes  []DriftChange `json:"changes" yaml:"changes"`
	Severity string        `json:"severity" yaml:"severity"`
}

func (d DriftResponse) Validate() error {
	switch d.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return invalidf("unknown drift severity %q", d.Severity)
	}
	for _, change := range d.Changes {
		switch change.Type {
		case DriftAdded, DriftRemoved, DriftRenamed, DriftTypeChanged, DriftNullRateDelta:
		default:
			return invalidf("unknown drift change type %q", change.Type)
		}
	}
	return nil
}

// Health is returned by GET /healthz.
type Health struct {
	Service           string `json:"service" yaml:"service"`
	Version           string `json:"version" yaml:"version"`
	RegulatedMode     bool   `json:"regulated_mode" yaml:"regulated_mode"`
	EmbeddingsEnabled bool   `json:"embeddings_enabled" yaml:"embeddings_enabled"`
}
