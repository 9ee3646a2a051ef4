package transformations

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/rpattn/datafusion/internal/domain"
)

func sampleRows() []domain.SourceRow {
	return []domain.SourceRow{
		{Dataset: domain.DatasetBankA, RowIndex: 0, Values: map[string]any{"cust_name": "  jane   doe ", "acct": "A-1", "bal": "100.50"}},
		{Dataset: domain.DatasetBankB, RowIndex: 0, Values: map[string]any{"customer_name": "JOHN SMITH", "account_number": "B-9", "balance": "n/a"}},
	}
}

func sampleMappings() []domain.ApprovedMapping {
	return []domain.ApprovedMapping{
		{FromColumn: "cust_name", ToColumn: "customer_name"},
		{FromColumn: "acct", ToColumn: "account_number"},
		{FromColumn: "bal", ToColumn: "balance"},
		{FromColumn: "customer_name", ToColumn: "customer_name"},
		{FromColumn: "account_number", ToColumn: "account_number"},
		{FromColumn: "balance", ToColumn: "balance"},
	}
}

func TestBuild_EmptyInputs(t *testing.T) {
	preview := BuildPreview(nil, nil, sampleRows())
	if preview.Columns == nil || preview.Rows == nil || len(preview.Columns) != 0 || len(preview.Rows) != 0 {
		t.Fatalf("expected empty non-nil preview, got %#v", preview)
	}
	preview = BuildPreview(sampleMappings(), nil, nil)
	if len(preview.Columns) != 0 || len(preview.Rows) != 0 {
		t.Fatalf("expected empty preview for no rows, got %#v", preview)
	}
}

func TestBuild_ColumnsAndRowCount(t *testing.T) {
	preview := BuildPreview(sampleMappings(), nil, sampleRows())
	want := []string{"customer_name", "account_number", "balance"}
	if !reflect.DeepEqual(preview.Columns, want) {
		t.Fatalf("expected columns %v, got %v", want, preview.Columns)
	}
	if len(preview.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(preview.Rows))
	}
	for idx, row := range preview.Rows {
		for _, column := range want {
			if _, ok := row[column]; !ok {
				t.Fatalf("row %d missing column %s", idx, column)
			}
		}
	}
}

func TestBuild_ResolvesPerDataset(t *testing.T) {
	preview := BuildPreview(sampleMappings(), nil, sampleRows())

	bankA := preview.Rows[0]["customer_name"]
	if bankA.Value != "  jane   doe " {
		t.Fatalf("unexpected bankA value %#v", bankA.Value)
	}
	if len(bankA.Lineage) != 1 || bankA.Lineage[0].Column != "cust_name" || bankA.Lineage[0].Dataset != domain.DatasetBankA {
		t.Fatalf("unexpected bankA lineage %#v", bankA.Lineage)
	}
	if len(bankA.Lineage[0].TransformsApplied) != 0 {
		t.Fatalf("expected no transforms, got %#v", bankA.Lineage[0].TransformsApplied)
	}

	bankB := preview.Rows[1]["customer_name"]
	if bankB.Value != "JOHN SMITH" || bankB.Lineage[0].Column != "customer_name" || bankB.Lineage[0].Dataset != domain.DatasetBankB {
		t.Fatalf("unexpected bankB cell %#v", bankB)
	}
}

func TestBuild_FirstMappingWins(t *testing.T) {
	mappings := []domain.ApprovedMapping{
		{FromColumn: "email_primary", ToColumn: "email"},
		{FromColumn: "email_secondary", ToColumn: "email"},
	}
	rows := []domain.SourceRow{
		{Dataset: domain.DatasetBankA, RowIndex: 0, Values: map[string]any{"email_primary": "a@x.io", "email_secondary": "b@x.io"}},
		{Dataset: domain.DatasetBankA, RowIndex: 1, Values: map[string]any{"email_primary": nil, "email_secondary": "c@x.io"}},
	}
	preview := BuildPreview(mappings, nil, rows)
	if got := preview.Rows[0]["email"]; got.Value != "a@x.io" || got.Lineage[0].Column != "email_primary" {
		t.Fatalf("expected primary email to win, got %#v", got)
	}
	if got := preview.Rows[1]["email"]; got.Value != "c@x.io" || got.Lineage[0].Column != "email_secondary" {
		t.Fatalf("expected fallback to secondary, got %#v", got)
	}
}

func TestBuild_UnresolvedTargetKeepsFirstMappingLineage(t *testing.T) {
	mappings := []domain.ApprovedMapping{
		{FromColumn: "phone", ToColumn: "phone_number"},
		{FromColumn: "tel", ToColumn: "phone_number"},
	}
	rows := []domain.SourceRow{{Dataset: domain.DatasetBankB, RowIndex: 4, Values: map[string]any{}}}
	cell := BuildPreview(mappings, nil, rows).Rows[0]["phone_number"]
	if cell.Value != nil {
		t.Fatalf("expected nil value, got %#v", cell.Value)
	}
	if len(cell.Lineage) != 1 || cell.Lineage[0].Column != "phone" || cell.Lineage[0].RowIndex != 4 {
		t.Fatalf("unexpected lineage %#v", cell.Lineage)
	}
}

func TestBuild_TransformsInOrder(t *testing.T) {
	transforms := []domain.TransformSpec{
		domain.NewTransformSpec("customer_name", domain.TransformTrimSpaces),
		domain.NewTransformSpec("customer_name", domain.TransformToTitle),
		domain.NewTransformSpec("balance", domain.TransformCastNumber),
	}
	disabled := domain.NewTransformSpec("customer_name", domain.TransformToUpper)
	disabled.Enabled = false
	transforms = append(transforms, disabled)

	preview := BuildPreview(sampleMappings(), transforms, sampleRows())

	name := preview.Rows[0]["customer_name"]
	if name.Value != "Jane Doe" {
		t.Fatalf("expected Jane Doe, got %#v", name.Value)
	}
	want := []domain.TransformKind{domain.TransformTrimSpaces, domain.TransformToTitle}
	if !reflect.DeepEqual(name.Lineage[0].TransformsApplied, want) {
		t.Fatalf("expected transforms %v, got %v", want, name.Lineage[0].TransformsApplied)
	}

	if got := preview.Rows[0]["balance"].Value; got != 100.5 {
		t.Fatalf("expected 100.5, got %#v", got)
	}
	if got := preview.Rows[1]["balance"].Value; got != nil {
		t.Fatalf("expected unparseable balance to degrade to nil, got %#v", got)
	}
	if len(preview.Issues) != 0 {
		t.Fatalf("lenient builds must not collect issues, got %#v", preview.Issues)
	}
}

func TestBuild_ConcatReadsRawInputs(t *testing.T) {
	mappings := []domain.ApprovedMapping{{FromColumn: "first", ToColumn: "full_name"}}
	sep := ", "
	concat := domain.NewTransformSpec("full_name", domain.TransformConcat, "last", "first", "middle")
	concat.Options.Separator = &sep
	transforms := []domain.TransformSpec{
		domain.NewTransformSpec("full_name", domain.TransformToUpper),
		concat,
		domain.NewTransformSpec("full_name", domain.TransformToLower),
	}
	rows := []domain.SourceRow{{Dataset: domain.DatasetBankA, RowIndex: 2, Values: map[string]any{"first": "Jane", "last": "Doe"}}}

	cell := BuildPreview(mappings, transforms, rows).Rows[0]["full_name"]
	if cell.Value != "doe, jane, " {
		t.Fatalf("expected concat of raw values then lowercase, got %#v", cell.Value)
	}
	if len(cell.Lineage) != 3 {
		t.Fatalf("expected one lineage entry per input, got %#v", cell.Lineage)
	}
	for i, column := range []string{"last", "first", "middle"} {
		entry := cell.Lineage[i]
		want := []domain.TransformKind{domain.TransformConcat, domain.TransformToLower}
		if entry.Column != column || entry.RowIndex != 2 || !reflect.DeepEqual(entry.TransformsApplied, want) {
			t.Fatalf("unexpected lineage entry %d: %#v", i, entry)
		}
	}
}

func TestBuild_StrictCollectsIssues(t *testing.T) {
	transforms := []domain.TransformSpec{domain.NewTransformSpec("balance", domain.TransformCastNumber)}
	rows := []domain.SourceRow{
		{Dataset: domain.DatasetBankA, RowIndex: 0, Values: map[string]any{"bal": "100.50"}},
		{Dataset: domain.DatasetBankA, RowIndex: 1, Values: map[string]any{"bal": "12kg"}},
		{Dataset: domain.DatasetBankA, RowIndex: 2, Values: map[string]any{"bal": ""}},
	}
	mappings := []domain.ApprovedMapping{{FromColumn: "bal", ToColumn: "balance"}}

	preview := NewBuilder(WithStrict(true)).Build(mappings, transforms, rows)
	if got := preview.Rows[1]["balance"].Value; got != nil {
		t.Fatalf("expected strict rejection, got %#v", got)
	}
	if len(preview.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %#v", preview.Issues)
	}
	issue := preview.Issues[0]
	if issue.RowIndex != 1 || issue.Column != "balance" || issue.Input != "12kg" || issue.Kind != domain.TransformCastNumber {
		t.Fatalf("unexpected issue %#v", issue)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	transforms := []domain.TransformSpec{
		domain.NewTransformSpec("customer_name", domain.TransformTrimSpaces),
		domain.NewTransformSpec("balance", domain.TransformCastNumber),
	}
	first, err := json.Marshal(BuildPreview(sampleMappings(), transforms, sampleRows()))
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	second, err := json.Marshal(BuildPreview(sampleMappings(), transforms, sampleRows()))
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected identical previews\n%s\n%s", first, second)
	}
}

func TestBuild_DoesNotMutateInputs(t *testing.T) {
	rows := sampleRows()
	transforms := []domain.TransformSpec{domain.NewTransformSpec("customer_name", domain.TransformToUpper)}
	BuildPreview(sampleMappings(), transforms, rows)
	if rows[0].Values["cust_name"] != "  jane   doe " {
		t.Fatalf("source row mutated: %#v", rows[0].Values)
	}
}

type recordingObserver struct {
	hits   int
	misses int
}

func (r *recordingObserver) ObservePreviewBuild(_ time.Duration, cached bool) {
	if cached {
		r.hits++
		return
	}
	r.misses++
}

func TestCachedBuilder_ReusesPreview(t *testing.T) {
	observer := &recordingObserver{}
	cached, err := NewCachedBuilder(NewBuilder(), 4, observer)
	if err != nil {
		t.Fatalf("new cached builder: %v", err)
	}
	first := cached.Build(sampleMappings(), nil, sampleRows())
	second := cached.Build(sampleMappings(), nil, sampleRows())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected cached preview to match")
	}
	if observer.hits != 1 || observer.misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %d/%d", observer.hits, observer.misses)
	}

	rows := sampleRows()
	rows[0].Values["acct"] = "A-2"
	cached.Build(sampleMappings(), nil, rows)
	if observer.misses != 2 || cached.Len() != 2 {
		t.Fatalf("expected changed rows to miss, got misses=%d len=%d", observer.misses, cached.Len())
	}

	cached.Purge()
	if cached.Len() != 0 {
		t.Fatalf("expected purge to empty cache")
	}
}

func TestBuild_SingleMappingUppercase(t *testing.T) {
	mappings := []domain.ApprovedMapping{{FromColumn: "fname", ToColumn: "first_name"}}
	transforms := []domain.TransformSpec{{TargetColumn: "first_name", Kind: domain.TransformToUpper, Enabled: true}}
	rows := []domain.SourceRow{{Dataset: domain.DatasetBankA, RowIndex: 0, Values: map[string]any{"fname": "alice"}}}

	preview := BuildPreview(mappings, transforms, rows)
	want := domain.MergedRow{
		"first_name": {
			Value: "ALICE",
			Lineage: []domain.Lineage{{
				Dataset:           domain.DatasetBankA,
				Column:            "fname",
				RowIndex:          0,
				TransformsApplied: []domain.TransformKind{domain.TransformToUpper},
			}},
		},
	}
	if len(preview.Rows) != 1 || !reflect.DeepEqual(preview.Rows[0], want) {
		t.Fatalf("unexpected preview rows %#v", preview.Rows)
	}
}

func TestBuild_MappingOrderBeatsSpecificity(t *testing.T) {
	rows := []domain.SourceRow{{Dataset: domain.DatasetBankA, RowIndex: 0, Values: map[string]any{"acct_id": "ID-1", "account_number": "AN-1"}}}
	generic := []domain.ApprovedMapping{
		{FromColumn: "acct_id", ToColumn: "account_number"},
		{FromColumn: "account_number", ToColumn: "account_number"},
	}
	if got := BuildPreview(generic, nil, rows).Rows[0]["account_number"].Value; got != "ID-1" {
		t.Fatalf("expected acct_id to win, got %#v", got)
	}
	reversed := []domain.ApprovedMapping{generic[1], generic[0]}
	if got := BuildPreview(reversed, nil, rows).Rows[0]["account_number"].Value; got != "AN-1" {
		t.Fatalf("expected account_number to win, got %#v", got)
	}
}

func TestBuild_ConcatWithDefaultSeparator(t *testing.T) {
	mappings := []domain.ApprovedMapping{{FromColumn: "first_name", ToColumn: "full_name"}}
	transforms := []domain.TransformSpec{domain.NewTransformSpec("full_name", domain.TransformConcat, "first_name", "last_name")}
	rows := []domain.SourceRow{{Dataset: domain.DatasetBankA, RowIndex: 0, Values: map[string]any{"first_name": "Ada", "last_name": "Lovelace"}}}

	cell := BuildPreview(mappings, transforms, rows).Rows[0]["full_name"]
	if cell.Value != "Ada Lovelace" {
		t.Fatalf("unexpected concat value %#v", cell.Value)
	}
	if len(cell.Lineage) != 2 {
		t.Fatalf("expected 2 lineage entries, got %d", len(cell.Lineage))
	}
}
