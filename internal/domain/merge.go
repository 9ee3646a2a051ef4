package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// DatasetTag identifies which uploaded dataset a value came from.
type DatasetTag string

const (
	DatasetBankA DatasetTag = "bankA"
	DatasetBankB DatasetTag = "bankB"
)

// Valid reports whether the tag names one of the two reconciled datasets.
func (d DatasetTag) Valid() bool {
	return d == DatasetBankA || d == DatasetBankB
}

// ParseDatasetTag accepts the canonical tags plus the snake_case names used by the backend.
func ParseDatasetTag(raw string) (DatasetTag, error) {
	switch raw {
	case "bankA", "bank_a", "banka", "A", "a":
		return DatasetBankA, nil
	case "bankB", "bank_b", "bankb", "B", "b":
		return DatasetBankB, nil
	}
	return "", fmt.Errorf("unknown dataset %q", raw)
}

// Lineage records which source column and row produced a cell value.
type Lineage struct {
	Dataset           DatasetTag      `json:"dataset"`
	Column            string          `json:"column"`
	RowIndex          int             `json:"rowIndex"`
	TransformsApplied []TransformKind `json:"transformsApplied"`
}

// Clone returns a copy that does not share the transforms slice.
func (l Lineage) Clone() Lineage {
	applied := make([]TransformKind, len(l.TransformsApplied))
	copy(applied, l.TransformsApplied)
	l.TransformsApplied = applied
	return l
}

// MergedCell is one output value plus its provenance.
type MergedCell struct {
	Value   any       `json:"value"`
	Lineage []Lineage `json:"lineage"`
}

// MergedRow maps target column names to cells.
type MergedRow map[string]MergedCell

// MergePreview is the row oriented result of combining both datasets.
type MergePreview struct {
	RunID   uuid.UUID        `json:"runId"`
	Columns []string         `json:"columns"`
	Rows    []MergedRow      `json:"rows"`
	Issues  []TransformIssue `json:"issues,omitempty"`
}

// EmptyPreview returns a preview with non-nil empty collections.
func EmptyPreview() MergePreview {
	return MergePreview{Columns: []string{}, Rows: []MergedRow{}}
}

// Sample returns a copy of the preview limited to the first limit rows. Zero or negative means no cap.
func (p MergePreview) Sample(limit int) MergePreview {
	if limit <= 0 || len(p.Rows) <= limit {
		return p
	}
	out := p
	out.Rows = append([]MergedRow(nil), p.Rows[:limit]...)
	return out
}

// ApprovedMapping is a user approved source column to target column correspondence.
type ApprovedMapping struct {
	CandidateID string `json:"candidateId,omitempty"`
	FromColumn  string `json:"fromColumn"`
	ToColumn    string `json:"toColumn"`
}

// SourceRow is one raw input row tagged with its origin.
type SourceRow struct {
	Dataset  DatasetTag     `json:"dataset"`
	RowIndex int            `json:"rowIndex"`
	Values   map[string]any `json:"values"`
}

// Lookup returns the value for column when it is present and not null.
func (r SourceRow) Lookup(column string) (any, bool) {
	value, ok := r.Values[column]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

// Clone copies the row values map.
func (r SourceRow) Clone() SourceRow {
	values := make(map[string]any, len(r.Values))
	for key, value := range r.Values {
		values[key] = value
	}
	r.Values = values
	return r
}
