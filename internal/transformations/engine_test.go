package transformations

import (
	"testing"

	"github.com/rpattn/datafusion/internal/domain"
)

func TestApplyTransform_NullShortCircuit(t *testing.T) {
	kinds := []domain.TransformKind{
		domain.TransformTrimSpaces,
		domain.TransformToUpper,
		domain.TransformToLower,
		domain.TransformToTitle,
		domain.TransformCastNumber,
		domain.TransformCastDate,
		domain.TransformKind("unknown"),
	}
	for _, kind := range kinds {
		if got := ApplyTransform(nil, kind, domain.TransformOptions{}); got != nil {
			t.Fatalf("expected nil for %s, got %#v", kind, got)
		}
	}
}

func TestApplyTransform_Strings(t *testing.T) {
	cases := []struct {
		name  string
		kind  domain.TransformKind
		input any
		want  any
	}{
		{"trim collapses runs", domain.TransformTrimSpaces, "  a   b \t c  ", "a b c"},
		{"trim empty", domain.TransformTrimSpaces, "   ", ""},
		{"upper", domain.TransformToUpper, "Jane Doe", "JANE DOE"},
		{"lower", domain.TransformToLower, "Jane DOE", "jane doe"},
		{"upper number coerces", domain.TransformToUpper, 12.5, "12.5"},
		{"title", domain.TransformToTitle, "jANE mARY doe", "Jane Mary Doe"},
		{"title keeps spacing", domain.TransformToTitle, "  jane  doe ", "  Jane  Doe "},
		{"title empty", domain.TransformToTitle, "", ""},
		{"unknown stringifies", domain.TransformKind("mystery"), 42.0, "42"},
		{"unknown bool", domain.TransformKind("mystery"), true, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyTransform(tc.input, tc.kind, domain.TransformOptions{})
			if got != tc.want {
				t.Fatalf("expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

func TestApplyTransform_LocaleCasing(t *testing.T) {
	got := ApplyTransform("istanbul", domain.TransformToUpper, domain.TransformOptions{Locale: "tr"})
	if got != "İSTANBUL" {
		t.Fatalf("expected turkish dotted capital, got %#v", got)
	}
	got = ApplyTransform("istanbul", domain.TransformToUpper, domain.TransformOptions{Locale: "not a locale!"})
	if got != "ISTANBUL" {
		t.Fatalf("expected fallback casing, got %#v", got)
	}
}

func TestApplyTransform_CastNumberLenient(t *testing.T) {
	cases := []struct {
		input any
		want  any
	}{
		{"42", 42.0},
		{"  3.5kg", 3.5},
		{"-1e3x", -1000.0},
		{".5", 0.5},
		{"7.", 7.0},
		{"1e", 1.0},
		{"1e400", nil},
		{"-1e400kg", nil},
		{"abc", nil},
		{"", nil},
		{"-", nil},
		{true, nil},
		{12, 12.0},
		{9.25, 9.25},
	}
	for _, tc := range cases {
		got := ApplyTransform(tc.input, domain.TransformCastNumber, domain.TransformOptions{})
		if got != tc.want {
			t.Fatalf("cast_number(%#v): expected %#v, got %#v", tc.input, tc.want, got)
		}
	}
}

func TestEngine_CastNumberStrict(t *testing.T) {
	engine := Engine{Strict: true}
	if got, reason := engine.Apply(" 42.5 ", domain.TransformCastNumber, domain.TransformOptions{}); got != 42.5 || reason != "" {
		t.Fatalf("expected 42.5, got %#v (%s)", got, reason)
	}
	for _, input := range []string{"3.5kg", "NaN", "inf", "0x10", "1_000", "1e400"} {
		got, reason := engine.Apply(input, domain.TransformCastNumber, domain.TransformOptions{})
		if got != nil || reason == "" {
			t.Fatalf("expected strict rejection for %q, got %#v (%q)", input, got, reason)
		}
	}
}

func TestApplyTransform_CastDate(t *testing.T) {
	cases := []struct {
		input any
		want  any
	}{
		{"2024-01-15", "2024-01-15"},
		{"2024-01-15T23:30:00-05:00", "2024-01-16"},
		{"2024/03/02", "2024-03-02"},
		{"03/02/2024", "2024-03-02"},
		{"Jan 5, 2023", "2023-01-05"},
		{"not a date", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := ApplyTransform(tc.input, domain.TransformCastDate, domain.TransformOptions{})
		if got != tc.want {
			t.Fatalf("cast_date(%#v): expected %#v, got %#v", tc.input, tc.want, got)
		}
	}
}

func TestApplyConcat(t *testing.T) {
	if got := ApplyConcat([]any{"Jane", nil, "Doe"}, " "); got != "Jane  Doe" {
		t.Fatalf("expected nulls to contribute empty strings, got %q", got)
	}
	if got := ApplyConcat([]any{"a", 1.0, true}, "-"); got != "a-1-true" {
		t.Fatalf("unexpected concat result %q", got)
	}
	if got := ApplyConcat(nil, ","); got != "" {
		t.Fatalf("expected empty concat, got %q", got)
	}
}

func TestRecordTransform_DoesNotMutateInput(t *testing.T) {
	base := BaseLineage(domain.DatasetBankA, "name", 3)
	next := RecordTransform(base, domain.TransformTrimSpaces)
	if len(base[0].TransformsApplied) != 0 {
		t.Fatalf("expected input lineage untouched, got %#v", base[0].TransformsApplied)
	}
	if len(next) != 1 || len(next[0].TransformsApplied) != 1 || next[0].TransformsApplied[0] != domain.TransformTrimSpaces {
		t.Fatalf("unexpected lineage %#v", next)
	}
	if next[0].Column != "name" || next[0].RowIndex != 3 || next[0].Dataset != domain.DatasetBankA {
		t.Fatalf("expected origin preserved, got %#v", next[0])
	}
}

func TestConcatLineage_FansOut(t *testing.T) {
	lineage := ConcatLineage(domain.DatasetBankB, 7, []string{"first", "last"})
	if len(lineage) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lineage))
	}
	for i, column := range []string{"first", "last"} {
		entry := lineage[i]
		if entry.Column != column || entry.RowIndex != 7 || entry.Dataset != domain.DatasetBankB {
			t.Fatalf("unexpected entry %#v", entry)
		}
		if len(entry.TransformsApplied) != 1 || entry.TransformsApplied[0] != domain.TransformConcat {
			t.Fatalf("expected concat marker, got %#v", entry.TransformsApplied)
		}
	}
}
