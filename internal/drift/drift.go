// Package drift compares two sets of table profiles and grades the schema change.
package drift

import (
	"math"
	"sort"

	"github.com/rpattn/datafusion/internal/domain"
)

// Thresholds grade null rate movement. Deltas strictly above Critical are critical,
// strictly above Warning are warnings.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds are used when callers pass the zero value.
var DefaultThresholds = Thresholds{Warning: 0.05, Critical: 0.20}

// Between lists added, removed, retyped and null-rate-shifted columns for every baseline
// table. Tables are visited in name order and columns in name order so output is stable.
// Any type change makes the result critical.
func Between(baseline, current map[string]domain.TableProfile, thresholds Thresholds) domain.DriftResponse {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}

	var added, removed, retyped, nullShift []domain.DriftChange
	for _, table := range sortedTables(baseline) {
		base := baseline[table]
		curr := current[table]
		baseCols := columnsByName(base)
		currCols := columnsByName(curr)

		for _, name := range sortedColumns(currCols) {
			if _, ok := baseCols[name]; !ok {
				added = append(added, domain.DriftChange{Type: domain.DriftAdded, Col: name})
			}
		}
		for _, name := range sortedColumns(baseCols) {
			if _, ok := currCols[name]; !ok {
				removed = append(removed, domain.DriftChange{Type: domain.DriftRemoved, Col: name})
			}
		}
		for _, name := range sortedColumns(baseCols) {
			currCol, ok := currCols[name]
			if !ok {
				continue
			}
			baseCol := baseCols[name]
			if baseCol.DType != currCol.DType {
				retyped = append(retyped, domain.DriftChange{
					Type: domain.DriftTypeChanged,
					Col:  name,
					From: baseCol.DType,
					To:   currCol.DType,
					Prev: baseCol.DType,
					Curr: currCol.DType,
				})
			}
			delta := nullRate(currCol, curr.RowCount) - nullRate(baseCol, base.RowCount)
			if math.Abs(delta) > 1e-9 {
				rounded := math.Round(delta*1e6) / 1e6
				nullShift = append(nullShift, domain.DriftChange{Type: domain.DriftNullRateDelta, Col: name, Delta: &rounded})
			}
		}
	}

	changes := make([]domain.DriftChange, 0, len(added)+len(removed)+len(retyped)+len(nullShift))
	changes = append(changes, added...)
	changes = append(changes, removed...)
	changes = append(changes, retyped...)
	changes = append(changes, nullShift...)

	return domain.DriftResponse{Changes: changes, Severity: grade(retyped, nullShift, thresholds)}
}

func grade(retyped, nullShift []domain.DriftChange, thresholds Thresholds) string {
	if len(retyped) > 0 {
		return domain.SeverityCritical
	}
	severity := domain.SeverityInfo
	for _, change := range nullShift {
		delta := math.Abs(*change.Delta)
		if delta > thresholds.Critical {
			return domain.SeverityCritical
		}
		if delta > thresholds.Warning {
			severity = domain.SeverityWarning
		}
	}
	return severity
}

func nullRate(col domain.ColumnProfile, rows int) float64 {
	if rows <= 0 {
		rows = 1
	}
	return float64(col.NullCount) / float64(rows)
}

func columnsByName(profile domain.TableProfile) map[string]domain.ColumnProfile {
	out := make(map[string]domain.ColumnProfile, len(profile.Columns))
	for _, col := range profile.Columns {
		out[col.Name] = col
	}
	return out
}

func sortedTables(m map[string]domain.TableProfile) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedColumns(m map[string]domain.ColumnProfile) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
