package ingestion

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

func TestServiceParseBuildsRowsAndProfile(t *testing.T) {
	logRepo := &stubLogRepo{}
	service := NewService(logRepo, nil)

	data := "\xEF\xBB\xBFcust name,acct-id,balance,active,opened\n" +
		"Jane Doe,A-1,100.50,yes,2024-01-15\n" +
		"\n" +
		"John Smith,A-2,,no,2024-02-01\n" +
		"Ana Ruiz,A-3,42,yes,2024-03-09\n"

	dataset, err := service.Parse(context.Background(), uuid.New(), Upload{
		Dataset:  domain.DatasetBankA,
		FileName: "bank_a.csv",
		Data:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	if len(dataset.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(dataset.Rows))
	}
	first := dataset.Rows[0]
	if first.Dataset != domain.DatasetBankA || first.RowIndex != 0 {
		t.Fatalf("unexpected row tag %+v", first)
	}
	if first.Values["cust_name"] != "Jane Doe" || first.Values["acct_id"] != "A-1" {
		t.Fatalf("expected sanitized headers, got %+v", first.Values)
	}
	if _, ok := dataset.Rows[1].Values["balance"]; ok {
		t.Fatalf("expected blank cell to be absent, got %+v", dataset.Rows[1].Values)
	}
	if dataset.Rows[2].RowIndex != 2 {
		t.Fatalf("expected contiguous row indexes, got %d", dataset.Rows[2].RowIndex)
	}

	profile := dataset.Profile
	if profile.DatasetID != domain.DatasetBankA || profile.RowCountSampled != 3 || profile.FileHash == "" {
		t.Fatalf("unexpected profile header %+v", profile)
	}
	types := map[string]domain.ColumnType{}
	blanks := map[string]float64{}
	for _, column := range profile.Columns {
		types[column.Name] = column.InferredType
		blanks[column.Name] = column.BlanksPct
	}
	if types["cust_name"] != domain.ColumnTypeString {
		t.Fatalf("expected cust_name string, got %s", types["cust_name"])
	}
	if types["balance"] != domain.ColumnTypeNumber {
		t.Fatalf("expected balance number, got %s", types["balance"])
	}
	if types["active"] != domain.ColumnTypeBoolean {
		t.Fatalf("expected active boolean, got %s", types["active"])
	}
	if types["opened"] != domain.ColumnTypeDate {
		t.Fatalf("expected opened date, got %s", types["opened"])
	}
	if blanks["balance"] != 33.3 {
		t.Fatalf("expected 33.3%% blanks, got %v", blanks["balance"])
	}

	keys := map[string]bool{}
	for _, key := range profile.LikelyKeys {
		keys[key.Column] = true
	}
	if !keys["acct_id"] || keys["active"] {
		t.Fatalf("unexpected likely keys %+v", profile.LikelyKeys)
	}
	if len(logRepo.entries) != 0 {
		t.Fatalf("did not expect ingestion errors, found %d", len(logRepo.entries))
	}
}

func TestServiceParseLogsOverflowCells(t *testing.T) {
	logRepo := &stubLogRepo{}
	service := NewService(logRepo, nil)
	runID := uuid.New()

	data := "name,acct\nJane,A-1,stray\nJohn,A-2\n"
	dataset, err := service.Parse(context.Background(), runID, Upload{
		Dataset:  domain.DatasetBankB,
		FileName: "bank_b.csv",
		Data:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if len(dataset.Rows) != 2 || len(dataset.Rows[0].Values) != 2 {
		t.Fatalf("expected truncated rows, got %+v", dataset.Rows)
	}
	if len(logRepo.entries) != 1 {
		t.Fatalf("expected one logged issue, got %d", len(logRepo.entries))
	}
	entry := logRepo.entries[0]
	if entry.RunID != runID || entry.Dataset != domain.DatasetBankB || entry.RowNumber == nil || *entry.RowNumber != 2 {
		t.Fatalf("unexpected log entry %+v", entry)
	}
}

func TestServiceParseExcel(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	rows := [][]any{
		{"customer_name", "balance"},
		{"Jane", 10.5},
		{"John", 3},
	}
	for idx, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := book.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	dataset, err := NewService(nil, nil).Parse(context.Background(), uuid.New(), Upload{
		Dataset:  domain.DatasetBankB,
		FileName: "bank_b.XLSX",
		Data:     &buf,
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if len(dataset.Rows) != 2 || dataset.Rows[0].Values["customer_name"] != "Jane" || dataset.Rows[0].Values["balance"] != "10.5" {
		t.Fatalf("unexpected rows %+v", dataset.Rows)
	}
}

func TestServiceParseRejectsInput(t *testing.T) {
	service := NewService(nil, nil)
	ctx := context.Background()

	_, err := service.Parse(ctx, uuid.New(), Upload{Dataset: domain.DatasetBankA, FileName: "a.json", Data: strings.NewReader("{}")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	_, err = service.Parse(ctx, uuid.New(), Upload{Dataset: domain.DatasetBankA, FileName: "a.csv", Data: strings.NewReader("")})
	if !errors.Is(err, ErrEmptyUpload) {
		t.Fatalf("expected ErrEmptyUpload, got %v", err)
	}
	_, err = service.Parse(ctx, uuid.New(), Upload{Dataset: "bankC", FileName: "a.csv", Data: strings.NewReader("a\n1\n")})
	if err == nil {
		t.Fatalf("expected unknown dataset error")
	}
}

func TestServiceParseHonoursHeaderRowIndex(t *testing.T) {
	header := 1
	data := "exported 2024-01-01\nname,acct\nJane,A-1\n"
	dataset, err := NewService(nil, nil).Parse(context.Background(), uuid.New(), Upload{
		Dataset:        domain.DatasetBankA,
		FileName:       "a.csv",
		HeaderRowIndex: &header,
		Data:           strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if len(dataset.Rows) != 1 || dataset.Rows[0].Values["acct"] != "A-1" {
		t.Fatalf("unexpected rows %+v", dataset.Rows)
	}
}

func TestServiceParsePairTagsDatasets(t *testing.T) {
	service := NewService(nil, nil)
	pair, err := service.ParsePair(context.Background(), uuid.New(),
		Upload{Dataset: domain.DatasetBankB, FileName: "a.csv", Data: strings.NewReader("acct\nA-1\n")},
		Upload{FileName: "b.csv", Data: strings.NewReader("account_number\nB-1\nB-2\n")},
	)
	if err != nil {
		t.Fatalf("parse pair returned error: %v", err)
	}
	if pair.BankA.Profile.DatasetID != domain.DatasetBankA || pair.BankB.Profile.DatasetID != domain.DatasetBankB {
		t.Fatalf("expected positional dataset tags, got %s/%s", pair.BankA.Profile.DatasetID, pair.BankB.Profile.DatasetID)
	}
	rows := pair.Rows()
	if len(rows) != 3 || rows[0].Dataset != domain.DatasetBankA || rows[2].Dataset != domain.DatasetBankB {
		t.Fatalf("unexpected combined rows %+v", rows)
	}

	_, err = service.ParsePair(context.Background(), uuid.New(),
		Upload{FileName: "a.csv", Data: strings.NewReader("acct\nA-1\n")},
		Upload{FileName: "b.txt", Data: strings.NewReader("x")},
	)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat from bankB, got %v", err)
	}
}

func TestFileHashStable(t *testing.T) {
	if FileHash([]byte("abc")) != FileHash([]byte("abc")) {
		t.Fatalf("expected stable hash")
	}
	if FileHash([]byte("abc")) == FileHash([]byte("abd")) {
		t.Fatalf("expected different hashes")
	}
	if len(FileHash(nil)) != 16 {
		t.Fatalf("expected 16 hex characters")
	}
}

type stubLogRepo struct {
	mu      sync.Mutex
	entries []domain.IngestionLogEntry
}

func (s *stubLogRepo) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLogRepo) ListByRun(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	return nil, errors.New("not implemented")
}

var _ repository.IngestionLogRepository = (*stubLogRepo)(nil)
