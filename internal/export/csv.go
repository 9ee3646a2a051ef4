package export

import (
	"strings"

	"github.com/rpattn/datafusion/internal/domain"
)

// ToCSV renders a header line followed by one line per row, joined by "\n" with no
// trailing newline. Missing and nil cells are empty. A cell containing a comma, a quote
// or a newline is wrapped in quotes with embedded quotes doubled.
func ToCSV(columns []string, rows []map[string]any) string {
	var b strings.Builder
	writeLine(&b, len(columns), func(i int) string { return columns[i] })
	for _, row := range rows {
		b.WriteByte('\n')
		writeLine(&b, len(columns), func(i int) string { return domain.FormatValue(row[columns[i]]) })
	}
	return b.String()
}

func writeLine(b *strings.Builder, n int, cell func(int) string) {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeCell(cell(i)))
	}
}

func escapeCell(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// PreviewTable flattens a merge preview into its column order and plain cell values.
func PreviewTable(preview domain.MergePreview) ([]string, []map[string]any) {
	rows := make([]map[string]any, 0, len(preview.Rows))
	for _, merged := range preview.Rows {
		row := make(map[string]any, len(preview.Columns))
		for _, column := range preview.Columns {
			row[column] = merged[column].Value
		}
		rows = append(rows, row)
	}
	return append([]string(nil), preview.Columns...), rows
}
