package transformations

import "github.com/rpattn/datafusion/internal/domain"

// BaseLineage is the provenance of an untransformed cell copied from one source column.
func BaseLineage(dataset domain.DatasetTag, column string, rowIndex int) []domain.Lineage {
	return []domain.Lineage{{
		Dataset:           dataset,
		Column:            column,
		RowIndex:          rowIndex,
		TransformsApplied: []domain.TransformKind{},
	}}
}

// RecordTransform returns a new lineage list with kind appended to every entry.
// The input list is not modified.
func RecordTransform(lineage []domain.Lineage, kind domain.TransformKind) []domain.Lineage {
	out := make([]domain.Lineage, len(lineage))
	for i, entry := range lineage {
		next := entry.Clone()
		next.TransformsApplied = append(next.TransformsApplied, kind)
		out[i] = next
	}
	return out
}

// ConcatLineage replaces prior lineage with one entry per concat input.
func ConcatLineage(dataset domain.DatasetTag, rowIndex int, inputs []string) []domain.Lineage {
	out := make([]domain.Lineage, len(inputs))
	for i, input := range inputs {
		out[i] = domain.Lineage{
			Dataset:           dataset,
			Column:            input,
			RowIndex:          rowIndex,
			TransformsApplied: []domain.TransformKind{domain.TransformConcat},
		}
	}
	return out
}
