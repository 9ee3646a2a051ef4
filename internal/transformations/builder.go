package transformations

import (
	"strings"

	"github.com/rpattn/datafusion/internal/domain"
)

// Builder assembles merge previews from approved mappings, transforms and source rows.
type Builder struct {
	engine Engine
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithStrict switches the builder to strict casting and issue collection.
func WithStrict(strict bool) BuilderOption {
	return func(b *Builder) {
		b.engine.Strict = strict
	}
}

// NewBuilder constructs a preview builder. The default is lenient.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Strict reports whether the builder runs the strict engine.
func (b *Builder) Strict() bool {
	return b.engine.Strict
}

// BuildPreview runs the lenient builder.
func BuildPreview(mappings []domain.ApprovedMapping, transforms []domain.TransformSpec, rows []domain.SourceRow) domain.MergePreview {
	return NewBuilder().Build(mappings, transforms, rows)
}

type targetPlan struct {
	column     string
	mappings   []domain.ApprovedMapping
	transforms []domain.TransformSpec
}

// Build produces one merged row per source row, in input order. Output columns are the
// distinct mapping targets in first-seen order. For each target the first mapping whose
// source column holds a non-null value wins. Build is pure and deterministic.
func (b *Builder) Build(mappings []domain.ApprovedMapping, transforms []domain.TransformSpec, rows []domain.SourceRow) domain.MergePreview {
	if len(rows) == 0 || len(mappings) == 0 {
		return domain.EmptyPreview()
	}

	plans := planTargets(mappings, transforms)
	preview := domain.MergePreview{
		Columns: make([]string, len(plans)),
		Rows:    make([]domain.MergedRow, 0, len(rows)),
	}
	for i, plan := range plans {
		preview.Columns[i] = plan.column
	}

	for _, row := range rows {
		merged := make(domain.MergedRow, len(plans))
		for _, plan := range plans {
			cell, issues := b.buildCell(row, plan)
			merged[plan.column] = cell
			preview.Issues = append(preview.Issues, issues...)
		}
		preview.Rows = append(preview.Rows, merged)
	}
	return preview
}

func planTargets(mappings []domain.ApprovedMapping, transforms []domain.TransformSpec) []targetPlan {
	index := make(map[string]int)
	var plans []targetPlan
	for _, mapping := range mappings {
		pos, ok := index[mapping.ToColumn]
		if !ok {
			pos = len(plans)
			index[mapping.ToColumn] = pos
			plans = append(plans, targetPlan{
				column:     mapping.ToColumn,
				transforms: domain.EnabledFor(transforms, mapping.ToColumn),
			})
		}
		plans[pos].mappings = append(plans[pos].mappings, mapping)
	}
	return plans
}

func (b *Builder) buildCell(row domain.SourceRow, plan targetPlan) (domain.MergedCell, []domain.TransformIssue) {
	// Unresolved targets keep the first mapping's column so the cell still has provenance.
	source := plan.mappings[0].FromColumn
	var value any
	for _, mapping := range plan.mappings {
		if found, ok := row.Lookup(mapping.FromColumn); ok {
			value = found
			source = mapping.FromColumn
			break
		}
	}

	lineage := BaseLineage(row.Dataset, source, row.RowIndex)
	var issues []domain.TransformIssue
	for _, spec := range plan.transforms {
		if spec.Kind == domain.TransformConcat {
			inputs := make([]any, len(spec.Inputs))
			for i, input := range spec.Inputs {
				inputs[i] = row.Values[input]
			}
			value = ApplyConcat(inputs, spec.Options.ConcatSeparator())
			lineage = ConcatLineage(row.Dataset, row.RowIndex, spec.Inputs)
			continue
		}

		before := value
		var reason string
		value, reason = b.engine.Apply(value, spec.Kind, spec.Options)
		lineage = RecordTransform(lineage, spec.Kind)
		if b.engine.Strict && reason != "" && strings.TrimSpace(domain.FormatValue(before)) != "" {
			issues = append(issues, domain.TransformIssue{
				Dataset:  row.Dataset,
				RowIndex: row.RowIndex,
				Column:   plan.column,
				Kind:     spec.Kind,
				Input:    domain.FormatValue(before),
				Reason:   reason,
			})
		}
	}
	return domain.MergedCell{Value: value, Lineage: lineage}, issues
}
