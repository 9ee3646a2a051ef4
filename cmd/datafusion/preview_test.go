package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/ingestion"
)

func TestIdentityMappingsUnionsColumns(t *testing.T) {
	pair := ingestion.Pair{
		BankA: ingestion.Dataset{Profile: domain.DatasetProfile{Columns: []domain.ColumnSummary{{Name: "id"}, {Name: "email"}}}},
		BankB: ingestion.Dataset{Profile: domain.DatasetProfile{Columns: []domain.ColumnSummary{{Name: "email"}, {Name: "balance"}}}},
	}
	mappings := identityMappings(pair)
	require.Equal(t, []domain.ApprovedMapping{
		{FromColumn: "id", ToColumn: "id"},
		{FromColumn: "email", ToColumn: "email"},
		{FromColumn: "balance", ToColumn: "balance"},
	}, mappings)
}

func TestWritePreviewCSV(t *testing.T) {
	preview := domain.MergePreview{
		Columns: []string{"name", "note"},
		Rows: []domain.MergedRow{
			{"name": {Value: "Ada"}, "note": {Value: "a, b"}},
			{"name": {Value: nil}, "note": {Value: `say "hi"`}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, writePreview(&buf, preview, "csv"))
	require.Equal(t, "name,note\nAda,\"a, b\"\n,\"say \"\"hi\"\"\"\n", buf.String())
}
