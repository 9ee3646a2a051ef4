package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyUpload is returned when an upload carries no bytes.
	ErrEmptyUpload = errors.New("file is empty")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.000000",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
	}
)

const (
	defaultSampleRows = 5
	maxExampleValues  = 3
)

// Service parses uploaded Bank A / Bank B files into tagged source rows and local profiles.
type Service struct {
	logRepo    repository.IngestionLogRepository
	logger     *zap.Logger
	sampleRows int
}

// Option configures the ingestion service.
type Option func(*Service)

// WithSampleRows overrides how many rows are copied into each profile.
func WithSampleRows(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.sampleRows = n
		}
	}
}

// NewService creates a new ingestion service. logRepo may be nil.
func NewService(logRepo repository.IngestionLogRepository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		logRepo:    logRepo,
		logger:     logger,
		sampleRows: defaultSampleRows,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload describes one uploaded dataset file.
type Upload struct {
	Dataset        domain.DatasetTag
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// Dataset is a parsed upload.
type Dataset struct {
	FileName string
	Payload  []byte
	Profile  domain.DatasetProfile
	Rows     []domain.SourceRow
}

// Pair holds both parsed datasets of a run.
type Pair struct {
	BankA Dataset
	BankB Dataset
}

// Rows returns Bank A rows followed by Bank B rows.
func (p Pair) Rows() []domain.SourceRow {
	out := make([]domain.SourceRow, 0, len(p.BankA.Rows)+len(p.BankB.Rows))
	out = append(out, p.BankA.Rows...)
	return append(out, p.BankB.Rows...)
}

type tableData struct {
	headers  []string
	rows     [][]string
	overflow map[int]int
}

// ParsePair parses both datasets concurrently.
func (s *Service) ParsePair(ctx context.Context, runID uuid.UUID, bankA, bankB Upload) (Pair, error) {
	bankA.Dataset = domain.DatasetBankA
	bankB.Dataset = domain.DatasetBankB

	var pair Pair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		parsed, err := s.Parse(gctx, runID, bankA)
		if err != nil {
			return fmt.Errorf("bankA: %w", err)
		}
		pair.BankA = parsed
		return nil
	})
	g.Go(func() error {
		parsed, err := s.Parse(gctx, runID, bankB)
		if err != nil {
			return fmt.Errorf("bankB: %w", err)
		}
		pair.BankB = parsed
		return nil
	})
	if err := g.Wait(); err != nil {
		return Pair{}, err
	}
	return pair, nil
}

// Parse reads one upload. Blank cells become absent values so mapping resolution can fall
// through to the next candidate source column.
func (s *Service) Parse(ctx context.Context, runID uuid.UUID, upload Upload) (Dataset, error) {
	if !upload.Dataset.Valid() {
		return Dataset{}, fmt.Errorf("unknown dataset %q", upload.Dataset)
	}
	if upload.Data == nil {
		return Dataset{}, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(upload.Data)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return Dataset{}, ErrEmptyUpload
	}
	if err := ctx.Err(); err != nil {
		return Dataset{}, err
	}

	table, err := parseTable(upload.FileName, payload, upload.HeaderRowIndex)
	if err != nil {
		return Dataset{}, err
	}
	if len(table.headers) == 0 {
		return Dataset{}, errors.New("no header row detected")
	}

	for _, rowNumber := range sortedKeys(table.overflow) {
		s.logIngestionError(ctx, runID, upload, &rowNumber,
			fmt.Errorf("row has %d cells beyond the header and they were dropped", table.overflow[rowNumber]))
	}

	rows := make([]domain.SourceRow, len(table.rows))
	for idx, record := range table.rows {
		values := make(map[string]any, len(table.headers))
		for col, header := range table.headers {
			cell := strings.TrimSpace(record[col])
			if cell == "" {
				continue
			}
			values[header] = cell
		}
		rows[idx] = domain.SourceRow{Dataset: upload.Dataset, RowIndex: idx, Values: values}
	}

	profile := buildProfile(upload, payload, table, rows, s.sampleRows)
	s.logger.Debug("parsed upload",
		zap.String("run_id", runID.String()),
		zap.String("dataset", string(upload.Dataset)),
		zap.String("file", upload.FileName),
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(table.headers)),
	)

	return Dataset{
		FileName: upload.FileName,
		Payload:  payload,
		Profile:  profile,
		Rows:     rows,
	}, nil
}

func buildProfile(upload Upload, payload []byte, table tableData, rows []domain.SourceRow, sampleRows int) domain.DatasetProfile {
	profile := domain.DatasetProfile{
		DatasetID:       upload.Dataset,
		FileNames:       []string{upload.FileName},
		FileHash:        FileHash(payload),
		RowCountSampled: len(table.rows),
		Columns:         make([]domain.ColumnSummary, 0, len(table.headers)),
		LikelyKeys:      []domain.LikelyKey{},
		SampleRows:      []map[string]any{},
	}

	for idx, header := range table.headers {
		profile.Columns = append(profile.Columns, summarizeColumn(idx, header, table.rows))
		if key, ok := likelyKey(idx, header, table.rows); ok {
			profile.LikelyKeys = append(profile.LikelyKeys, key)
		}
	}
	sort.SliceStable(profile.LikelyKeys, func(i, j int) bool {
		return profile.LikelyKeys[i].Score > profile.LikelyKeys[j].Score
	})

	for i := 0; i < len(rows) && i < sampleRows; i++ {
		profile.SampleRows = append(profile.SampleRows, rows[i].Clone().Values)
	}
	return profile
}

// FileHash fingerprints an uploaded payload.
func FileHash(payload []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(payload))
}

func summarizeColumn(col int, header string, rows [][]string) domain.ColumnSummary {
	summary := domain.ColumnSummary{
		Name:          header,
		InferredType:  profileColumn(col, rows),
		ExampleValues: []string{},
	}
	if len(rows) == 0 {
		return summary
	}

	blanks := 0
	seen := make(map[string]struct{})
	for _, row := range rows {
		value := strings.TrimSpace(row[col])
		if value == "" {
			blanks++
			continue
		}
		if _, ok := seen[value]; ok || len(summary.ExampleValues) >= maxExampleValues {
			continue
		}
		seen[value] = struct{}{}
		summary.ExampleValues = append(summary.ExampleValues, value)
	}
	summary.BlanksPct = math.Round(float64(blanks)/float64(len(rows))*1000) / 10
	return summary
}

// likelyKey flags fully populated columns whose values are (almost) all distinct.
func likelyKey(col int, header string, rows [][]string) (domain.LikelyKey, bool) {
	if len(rows) < 2 {
		return domain.LikelyKey{}, false
	}
	distinct := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		value := strings.TrimSpace(row[col])
		if value == "" {
			return domain.LikelyKey{}, false
		}
		distinct[value] = struct{}{}
	}
	ratio := float64(len(distinct)) / float64(len(rows))
	if ratio < 0.95 {
		return domain.LikelyKey{}, false
	}
	reason := "all values present and unique"
	if ratio < 1 {
		reason = "all values present and nearly unique"
	}
	return domain.LikelyKey{Column: header, Score: math.Round(ratio*100) / 100, Reason: reason}, true
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows, headerRowIndex)
}

// normalizeTable picks the header row (explicit or first non-empty), drops blank rows and
// pads or truncates data rows to the header width. Overflow is keyed by 1-based file row.
func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	headerIndex := -1
	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if isBlankRow(records[*headerRowIndex]) {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerIndex = *headerRowIndex
	} else {
		for idx, row := range records {
			if !isBlankRow(row) {
				headerIndex = idx
				break
			}
		}
	}
	if headerIndex < 0 {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(records[headerIndex])
	table := tableData{headers: headers, overflow: map[int]int{}}
	for idx := headerIndex + 1; idx < len(records); idx++ {
		row := records[idx]
		if isBlankRow(row) {
			continue
		}
		if extra := countExtraCells(row, len(headers)); extra > 0 {
			table.overflow[idx+1] = extra
		}
		table.rows = append(table.rows, padRow(row, len(headers)))
	}
	return table, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func countExtraCells(row []string, width int) int {
	extra := 0
	for i := width; i < len(row); i++ {
		if strings.TrimSpace(row[i]) != "" {
			extra++
		}
	}
	return extra
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func profileColumn(col int, rows [][]string) domain.ColumnType {
	isBool := true
	isNumber := true
	isDate := true
	hasValue := false

	for _, row := range rows {
		value := strings.TrimSpace(row[col])
		if value == "" {
			continue
		}
		hasValue = true

		if !looksLikeBool(value) {
			isBool = false
		}
		if !looksLikeNumber(value) {
			isNumber = false
		}
		if !looksLikeDate(value) {
			isDate = false
		}
	}

	switch {
	case !hasValue:
		return domain.ColumnTypeUnknown
	case isBool:
		return domain.ColumnTypeBoolean
	case isNumber:
		return domain.ColumnTypeNumber
	case isDate:
		return domain.ColumnTypeDate
	default:
		return domain.ColumnTypeString
	}
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "y", "n":
		return true
	}
	return false
}

func looksLikeNumber(value string) bool {
	f, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func looksLikeDate(value string) bool {
	for _, layout := range timeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	return keys
}

func (s *Service) logIngestionError(ctx context.Context, runID uuid.UUID, upload Upload, rowNumber *int, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("ingestion row issue",
		zap.String("run_id", runID.String()),
		zap.String("dataset", string(upload.Dataset)),
		zap.String("file", upload.FileName),
		zap.Error(err),
	)
	if s.logRepo == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		RunID:        runID,
		Dataset:      upload.Dataset,
		FileName:     upload.FileName,
		RowNumber:    rowNumber,
		ErrorMessage: err.Error(),
	}
	if recordErr := s.logRepo.Record(ctx, entry); recordErr != nil {
		s.logger.Error("failed to record ingestion log", zap.Error(recordErr))
	}
}
