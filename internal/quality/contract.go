// Package quality evaluates data contracts against merged preview rows.
package quality

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/transformations"
)

// RuleKind enumerates the supported contract rules.
type RuleKind string

const (
	RuleNotNull   RuleKind = "not_null"
	RuleUnique    RuleKind = "unique"
	RuleRegex     RuleKind = "regex"
	RuleEnum      RuleKind = "enum"
	RuleRangeNum  RuleKind = "range_num"
	RuleDateOrder RuleKind = "date_order"
	RuleOutliers  RuleKind = "outliers"
)

const (
	// MaxSample caps the row indexes reported per violation.
	MaxSample = 10
	// missingSample caps the row indexes reported when a rule's column is absent.
	missingSample = 5
)

// ErrInvalidRule is returned when a rule definition cannot be evaluated.
var ErrInvalidRule = errors.New("invalid contract rule")

// Rule is one check in a contract. Only the fields relevant to Kind are read.
type Rule struct {
	Kind    RuleKind `json:"kind" yaml:"kind"`
	Field   string   `json:"field,omitempty" yaml:"field,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Values  []string `json:"values,omitempty" yaml:"values,omitempty"`
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Start   string   `json:"start,omitempty" yaml:"start,omitempty"`
	End     string   `json:"end,omitempty" yaml:"end,omitempty"`
	// Method is "iqr" (default) or "zscore"; Z is the zscore cut-off, 3 when unset.
	Method string  `json:"method,omitempty" yaml:"method,omitempty"`
	Z      float64 `json:"z,omitempty" yaml:"z,omitempty"`
}

// Contract is a named list of rules.
type Contract struct {
	Name  string `json:"name" yaml:"name"`
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Validate checks that every rule has the parameters its kind needs.
func (c Contract) Validate() error {
	for idx, rule := range c.Rules {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("contract %s rule %d: %w", c.Name, idx, err)
		}
	}
	return nil
}

func (r Rule) validate() error {
	switch r.Kind {
	case RuleNotNull, RuleUnique, RuleEnum, RuleRangeNum:
	case RuleRegex:
		if _, err := regexp.Compile(fullMatch(r.Pattern)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	case RuleDateOrder:
		if r.Start == "" || r.End == "" {
			return fmt.Errorf("%w: date_order needs start and end", ErrInvalidRule)
		}
		return nil
	case RuleOutliers:
		if r.Method != "" && r.Method != "iqr" && r.Method != "zscore" {
			return fmt.Errorf("%w: unknown outlier method %q", ErrInvalidRule, r.Method)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	if strings.TrimSpace(r.Field) == "" {
		return fmt.Errorf("%w: %s needs a field", ErrInvalidRule, r.Kind)
	}
	return nil
}

// Name renders the rule the way violations report it, e.g. "not_null(account_id)".
func (r Rule) Name() string {
	switch r.Kind {
	case RuleDateOrder:
		return fmt.Sprintf("date_order(%s<=%s)", r.Start, r.End)
	case RuleOutliers:
		return fmt.Sprintf("outliers(%s,%s)", r.Field, r.method())
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Field)
}

func (r Rule) method() string {
	if r.Method == "" {
		return "iqr"
	}
	return r.Method
}

// Evaluate runs every rule of the contract over rows. The status is "fail" when any
// error severity rule is violated; outlier findings are warnings.
func Evaluate(contract Contract, rows []map[string]any) domain.ValidateResponse {
	t := newTable(rows)
	resp := domain.ValidateResponse{
		Status:     "pass",
		Violations: []domain.ValidationViolation{},
		Summary:    domain.ValidationSummary{Rows: len(rows), Columns: len(t.columns)},
	}
	for _, rule := range contract.Rules {
		violation, ok := t.check(rule)
		if !ok {
			continue
		}
		resp.Violations = append(resp.Violations, violation)
		switch violation.Severity {
		case domain.SeverityError:
			resp.Status = "fail"
		case domain.SeverityWarning:
			resp.Summary.Warnings++
		}
	}
	return resp
}

type table struct {
	rows    []map[string]any
	columns map[string]struct{}
}

func newTable(rows []map[string]any) table {
	columns := make(map[string]struct{})
	for _, row := range rows {
		for column := range row {
			columns[column] = struct{}{}
		}
	}
	return table{rows: rows, columns: columns}
}

func (t table) has(columns ...string) bool {
	for _, column := range columns {
		if _, ok := t.columns[column]; !ok {
			return false
		}
	}
	return true
}

// check returns the violation for rule, or false when every row passes.
func (t table) check(rule Rule) (domain.ValidationViolation, bool) {
	required := []string{rule.Field}
	if rule.Kind == RuleDateOrder {
		required = []string{rule.Start, rule.End}
	}
	if !t.has(required...) {
		// Outliers on an absent column pass on purpose: a missing column has no values to
		// score, and not_null covers its absence.
		if rule.Kind == RuleOutliers || len(t.rows) == 0 {
			return domain.ValidationViolation{}, false
		}
		sample := make([]int, 0, missingSample)
		for i := 0; i < len(t.rows) && i < missingSample; i++ {
			sample = append(sample, i)
		}
		return violation(rule, len(t.rows), sample, domain.SeverityError), true
	}

	var failing []int
	severity := domain.SeverityError
	switch rule.Kind {
	case RuleNotNull:
		failing = t.filter(func(row map[string]any) bool { return row[rule.Field] == nil })
	case RuleUnique:
		failing = t.duplicates(rule.Field)
	case RuleRegex:
		re := regexp.MustCompile(fullMatch(rule.Pattern))
		failing = t.filter(func(row map[string]any) bool {
			value := row[rule.Field]
			return value != nil && !re.MatchString(domain.FormatValue(value))
		})
	case RuleEnum:
		failing = t.filter(func(row map[string]any) bool {
			value := row[rule.Field]
			return value == nil || !slices.Contains(rule.Values, domain.FormatValue(value))
		})
	case RuleRangeNum:
		failing = t.filter(func(row map[string]any) bool {
			f, ok := number(row[rule.Field])
			if !ok {
				return false
			}
			return (rule.Min != nil && f < *rule.Min) || (rule.Max != nil && f > *rule.Max)
		})
	case RuleDateOrder:
		failing = t.filter(func(row map[string]any) bool {
			start, okStart := date(row[rule.Start])
			end, okEnd := date(row[rule.End])
			return okStart && okEnd && start.After(end)
		})
	case RuleOutliers:
		failing = t.outliers(rule)
		severity = domain.SeverityWarning
	}
	if len(failing) == 0 {
		return domain.ValidationViolation{}, false
	}
	return violation(rule, len(failing), failing[:min(len(failing), MaxSample)], severity), true
}

func violation(rule Rule, count int, sample []int, severity string) domain.ValidationViolation {
	return domain.ValidationViolation{Rule: rule.Name(), Count: count, Severity: severity, Sample: sample}
}

func (t table) filter(fails func(map[string]any) bool) []int {
	var out []int
	for idx, row := range t.rows {
		if fails(row) {
			out = append(out, idx)
		}
	}
	return out
}

// duplicates returns every row whose value appears more than once. Nulls compare equal.
func (t table) duplicates(field string) []int {
	seen := make(map[string]int, len(t.rows))
	keys := make([]string, len(t.rows))
	for idx, row := range t.rows {
		key := "\x00null"
		if value := row[field]; value != nil {
			key = domain.FormatValue(value)
		}
		keys[idx] = key
		seen[key]++
	}
	var out []int
	for idx, key := range keys {
		if seen[key] > 1 {
			out = append(out, idx)
		}
	}
	return out
}

func (t table) outliers(rule Rule) []int {
	type point struct {
		idx   int
		value float64
	}
	var points []point
	for idx, row := range t.rows {
		if f, ok := number(row[rule.Field]); ok {
			points = append(points, point{idx, f})
		}
	}
	if len(points) == 0 {
		return nil
	}

	var outside func(float64) bool
	if rule.method() == "zscore" {
		z := rule.Z
		if z <= 0 {
			z = 3
		}
		var sum float64
		for _, p := range points {
			sum += p.value
		}
		mean := sum / float64(len(points))
		var sq float64
		for _, p := range points {
			sq += (p.value - mean) * (p.value - mean)
		}
		sd := math.Sqrt(sq / float64(len(points)))
		if sd == 0 {
			return nil
		}
		outside = func(f float64) bool { return math.Abs(f-mean) > z*sd }
	} else {
		sorted := make([]float64, len(points))
		for i, p := range points {
			sorted[i] = p.value
		}
		slices.Sort(sorted)
		q1, q3 := quantile(sorted, 0.25), quantile(sorted, 0.75)
		iqr := q3 - q1
		lo, hi := q1-1.5*iqr, q3+1.5*iqr
		outside = func(f float64) bool { return f < lo || f > hi }
	}

	var out []int
	for _, p := range points {
		if outside(p.value) {
			out = append(out, p.idx)
		}
	}
	return out
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, !math.IsNaN(v)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(domain.FormatValue(value)), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func date(value any) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, true
	}
	return transformations.ParseDate(domain.FormatValue(value))
}

func fullMatch(pattern string) string {
	return `^(?:` + pattern + `)$`
}
