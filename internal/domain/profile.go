package domain

// ColumnType is the locally inferred type of an uploaded column.
type ColumnType string

const (
	ColumnTypeString  ColumnType = "string"
	ColumnTypeNumber  ColumnType = "number"
	ColumnTypeBoolean ColumnType = "boolean"
	ColumnTypeDate    ColumnType = "date"
	ColumnTypeUnknown ColumnType = "unknown"
)

// ColumnSummary is the per column part of a local dataset profile.
type ColumnSummary struct {
	Name          string     `json:"name"`
	InferredType  ColumnType `json:"inferredType"`
	BlanksPct     float64    `json:"blanksPct"`
	ExampleValues []string   `json:"exampleValues"`
}

// LikelyKey flags a column that looks like a row identifier.
type LikelyKey struct {
	Column string  `json:"column"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// DatasetProfile summarizes an uploaded dataset before it is sent to the backend.
type DatasetProfile struct {
	DatasetID       DatasetTag       `json:"datasetId"`
	FileNames       []string         `json:"fileNames"`
	FileHash        string           `json:"fileHash"`
	RowCountSampled int              `json:"rowCountSampled"`
	Columns         []ColumnSummary  `json:"columns"`
	LikelyKeys      []LikelyKey      `json:"likelyKeys"`
	SampleRows      []map[string]any `json:"sampleRows"`
}
