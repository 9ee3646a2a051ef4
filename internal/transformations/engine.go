package transformations

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rpattn/datafusion/internal/domain"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// dateLayouts are tried in order when casting a value to a calendar date.
var dateLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// Engine applies single value transforms. The zero value is the lenient engine.
//
// In strict mode cast_number only accepts values that parse in full, and every cast that
// degrades a non-empty input to null reports a reason so callers can record an issue.
type Engine struct {
	Strict bool
}

// ApplyTransform applies kind to value with the lenient engine.
// Absent values stay absent and unparseable values degrade to nil. It never fails.
func ApplyTransform(value any, kind domain.TransformKind, opts domain.TransformOptions) any {
	out, _ := Engine{}.Apply(value, kind, opts)
	return out
}

// ApplyConcat joins the values with separator. Nil values contribute the empty string.
func ApplyConcat(values []any, separator string) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = domain.FormatValue(value)
	}
	return strings.Join(parts, separator)
}

// Apply transforms value and returns the result plus a non-empty reason when a present
// input was degraded to nil. Concat is not a single value transform; callers use ApplyConcat.
func (e Engine) Apply(value any, kind domain.TransformKind, opts domain.TransformOptions) (any, string) {
	if value == nil {
		return nil, ""
	}

	switch kind {
	case domain.TransformTrimSpaces:
		return collapseSpaces(domain.FormatValue(value)), ""
	case domain.TransformToUpper:
		return cases.Upper(localeTag(opts.Locale)).String(domain.FormatValue(value)), ""
	case domain.TransformToLower:
		return cases.Lower(localeTag(opts.Locale)).String(domain.FormatValue(value)), ""
	case domain.TransformToTitle:
		return titleWords(domain.FormatValue(value), localeTag(opts.Locale)), ""
	case domain.TransformCastNumber:
		return e.castNumber(value)
	case domain.TransformCastDate:
		return castDate(value)
	default:
		return domain.FormatValue(value), ""
	}
}

func (e Engine) castNumber(value any) (any, string) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, "not a finite number"
		}
		return v, ""
	case float32:
		return e.castNumber(float64(v))
	case int:
		return float64(v), ""
	case int64:
		return float64(v), ""
	case int32:
		return float64(v), ""
	}

	raw := domain.FormatValue(value)
	if e.Strict {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.ContainsAny(trimmed, "xX_") {
			return nil, "not a number"
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, "not a number"
		}
		return f, ""
	}

	f, ok := leadingFloat(raw)
	if !ok {
		return nil, "not a number"
	}
	return f, ""
}

func castDate(value any) (any, string) {
	if ts, ok := value.(time.Time); ok {
		return ts.UTC().Format("2006-01-02"), ""
	}
	raw := strings.TrimSpace(domain.FormatValue(value))
	if raw == "" {
		return nil, "empty date"
	}
	if ts, ok := ParseDate(raw); ok {
		return ts.Format("2006-01-02"), ""
	}
	return nil, "unrecognized date"
}

// ParseDate tries the supported date layouts in order and returns the first match in UTC.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// leadingFloat parses the longest numeric prefix of s after leading whitespace.
// Infinite results are reported as unparseable since they cannot be represented in a preview.
func leadingFloat(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := 0
	for end < len(s) && isDigit(s[end]) {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && isDigit(s[end]) {
			end++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		expDigits := exp
		for expDigits < len(s) && isDigit(s[expDigits]) {
			expDigits++
		}
		if expDigits > exp {
			end = expDigits
		}
	}
	prefix := strings.TrimSuffix(s[:end], ".")
	f, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		// ParseFloat reports range errors with +/-Inf; "1." style prefixes are trimmed above.
		return 0, false
	}
	if math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleWords uppercases the first rune of every whitespace delimited token and lowercases
// the rest. Whitespace runs are kept as they are.
func titleWords(s string, tag language.Tag) string {
	upper := cases.Upper(tag)
	lower := cases.Lower(tag)

	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if unicode.IsSpace(r) {
			b.WriteString(s[:size])
			s = s[size:]
			continue
		}
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			end = len(s)
		}
		token := s[:end]
		b.WriteString(upper.String(token[:size]))
		b.WriteString(lower.String(token[size:]))
		s = s[end:]
	}
	return b.String()
}

func localeTag(raw string) language.Tag {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return language.Und
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return language.Und
	}
	return tag
}
