package backend

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/drift"
	"github.com/rpattn/datafusion/internal/mapping"
	"github.com/rpattn/datafusion/internal/quality"
	"github.com/rpattn/datafusion/internal/transformations"
)

//go:embed fixtures/fixtures.yaml
var fixtureYAML []byte

// Preview columns prepended to every merged row returned by POST /merge.
const (
	ColumnSourceBank     = "_source_bank"
	ColumnSourceFile     = "_source_file"
	ColumnTransformChain = "_transform_chain"
)

type fixtureData struct {
	Health   domain.Health           `yaml:"health"`
	Profile  domain.ProfileResponse  `yaml:"profile"`
	Match    domain.MatchResponse    `yaml:"match"`
	Merge    domain.MergeResponse    `yaml:"merge"`
	Validate domain.ValidateResponse `yaml:"validate"`
	Drift    domain.DriftResponse    `yaml:"drift"`

	Contracts []quality.Contract `yaml:"contracts"`
}

// Fixture serves canned responses so the reconciliation flow runs without a backend.
// Requests that carry enough local data are answered by computing the result instead:
// merges run the preview builder, drift compares the supplied profiles and docs are
// rendered from the manifest.
type Fixture struct {
	raw             []byte
	builder         *transformations.Builder
	reviewSeconds   int
	driftThresholds drift.Thresholds
	latency         time.Duration
	now             func() time.Time
}

// FixtureOption configures a Fixture.
type FixtureOption func(*Fixture)

// WithFixtureData replaces the embedded fixture document.
func WithFixtureData(raw []byte) FixtureOption {
	return func(f *Fixture) {
		f.raw = raw
	}
}

// WithBuilder sets the builder used for local merges.
func WithBuilder(builder *transformations.Builder) FixtureOption {
	return func(f *Fixture) {
		if builder != nil {
			f.builder = builder
		}
	}
}

// WithReviewSeconds sets the per mapping review time used when reclassifying matches.
func WithReviewSeconds(seconds int) FixtureOption {
	return func(f *Fixture) {
		f.reviewSeconds = seconds
	}
}

// WithDriftThresholds overrides the null rate grading thresholds.
func WithDriftThresholds(thresholds drift.Thresholds) FixtureOption {
	return func(f *Fixture) {
		f.driftThresholds = thresholds
	}
}

// WithLatency delays every call, mimicking a remote round trip.
func WithLatency(d time.Duration) FixtureOption {
	return func(f *Fixture) {
		f.latency = d
	}
}

// WithClock sets the clock used to stamp generated docs.
func WithClock(now func() time.Time) FixtureOption {
	return func(f *Fixture) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFixture decodes and validates the fixture document.
func NewFixture(opts ...FixtureOption) (*Fixture, error) {
	f := &Fixture{
		raw:           fixtureYAML,
		builder:       transformations.NewBuilder(),
		reviewSeconds: mapping.ReviewSecondsPerMapping,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	data, err := f.load()
	if err != nil {
		return nil, err
	}
	for name, v := range map[string]validator{
		"profile":  data.Profile,
		"match":    data.Match,
		"merge":    data.Merge,
		"validate": data.Validate,
		"drift":    data.Drift,
	} {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", name, err)
		}
	}
	for _, contract := range data.Contracts {
		if err := contract.Validate(); err != nil {
			return nil, fmt.Errorf("fixture contracts: %w", err)
		}
	}
	return f, nil
}

// load decodes a fresh copy so callers never share fixture slices or maps.
func (f *Fixture) load() (fixtureData, error) {
	var data fixtureData
	if err := yaml.Unmarshal(f.raw, &data); err != nil {
		return fixtureData{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return data, nil
}

func (f *Fixture) wait(ctx context.Context) (fixtureData, error) {
	if f.latency > 0 {
		timer := time.NewTimer(f.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fixtureData{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return fixtureData{}, err
	}
	return f.load()
}

func (f *Fixture) Health(ctx context.Context) (domain.Health, error) {
	data, err := f.wait(ctx)
	if err != nil {
		return domain.Health{}, err
	}
	return data.Health, nil
}

func (f *Fixture) Profile(ctx context.Context, _ []File) (domain.ProfileResponse, error) {
	data, err := f.wait(ctx)
	if err != nil {
		return domain.ProfileResponse{}, err
	}
	return data.Profile, nil
}

// Match returns the fixture candidates reclassified at threshold, or at the default
// auto-accept threshold when none is given.
func (f *Fixture) Match(ctx context.Context, _, _ File, threshold *float64) (domain.MatchResponse, error) {
	data, err := f.wait(ctx)
	if err != nil {
		return domain.MatchResponse{}, err
	}
	t := mapping.DefaultThreshold
	if threshold != nil {
		t = *threshold
	}
	out := mapping.Reclassify(data.Match, t, f.reviewSeconds)
	if err := out.Validate(); err != nil {
		return domain.MatchResponse{}, fmt.Errorf("match: %w", err)
	}
	return out, nil
}

// Merge builds the preview locally when mappings and rows are supplied, otherwise it
// returns the canned merge.
func (f *Fixture) Merge(ctx context.Context, req MergeRequest) (domain.MergeResponse, error) {
	data, err := f.wait(ctx)
	if err != nil {
		return domain.MergeResponse{}, err
	}
	if len(req.Mappings) == 0 || len(req.Rows) == 0 {
		return data.Merge, nil
	}
	if err := domain.ValidateTransforms(req.Transforms); err != nil {
		return domain.MergeResponse{}, fmt.Errorf("merge: %w", err)
	}
	preview := f.builder.Build(req.Mappings, req.Transforms, req.Rows)
	return FlattenPreview(preview, req.Rows, fileNames(req.Files)), nil
}

// Validate evaluates the named contract when the fixture defines it. Unknown contracts
// get the canned rule results, sized to the submitted rows when present.
func (f *Fixture) Validate(ctx context.Context, req domain.ValidateRequest) (domain.ValidateResponse, error) {
	data, err := f.wait(ctx)
	if err != nil {
		return domain.ValidateResponse{}, err
	}
	for _, contract := range data.Contracts {
		if contract.Name == req.Contract {
			return quality.Evaluate(contract, req.Rows), nil
		}
	}
	out := data.Validate
	if len(req.Rows) > 0 {
		out.Summary.Rows = len(req.Rows)
		out.Summary.Columns = countColumns(req.Rows)
	}
	return out, nil
}

func (f *Fixture) Docs(ctx context.Context, req domain.DocsRequest) (domain.DocsResponse, error) {
	if _, err := f.wait(ctx); err != nil {
		return domain.DocsResponse{}, err
	}
	out, err := RenderDocs(req, f.now())
	if err != nil {
		return domain.DocsResponse{}, fmt.Errorf("docs: %w", err)
	}
	return out, nil
}

// Drift compares the supplied profiles. Without a baseline it returns the canned report.
func (f *Fixture) Drift(ctx context.Context, req domain.DriftRequest) (domain.DriftResponse, error) {
	data, err := f.wait(ctx)
	if err != nil {
		return domain.DriftResponse{}, err
	}
	if len(req.Baseline) == 0 {
		return data.Drift, nil
	}
	return drift.Between(req.Baseline, req.Current, f.driftThresholds), nil
}

// FlattenPreview converts a merge preview into backend rows. Each row is prefixed with
// the source bank, source file and the JSON encoded list of transforms applied to it.
// rows must be the source rows the preview was built from.
func FlattenPreview(preview domain.MergePreview, rows []domain.SourceRow, files map[domain.DatasetTag]string) domain.MergeResponse {
	columns := append([]string{ColumnSourceBank, ColumnSourceFile, ColumnTransformChain}, preview.Columns...)
	out := domain.MergeResponse{Columns: columns, PreviewRows: make([]map[string]any, 0, len(preview.Rows))}

	for i, merged := range preview.Rows {
		dataset := domain.DatasetBankA
		if i < len(rows) {
			dataset = rows[i].Dataset
		}
		file := files[dataset]
		if file == "" {
			file = tableName(dataset) + ".csv"
		}

		flat := make(map[string]any, len(columns))
		flat[ColumnSourceBank] = tableName(dataset)
		flat[ColumnSourceFile] = file
		flat[ColumnTransformChain] = transformChain(preview.Columns, merged)
		for _, column := range preview.Columns {
			flat[column] = merged[column].Value
		}
		out.PreviewRows = append(out.PreviewRows, flat)
	}
	return out
}

func transformChain(columns []string, row domain.MergedRow) string {
	seen := make(map[domain.TransformKind]struct{})
	chain := []domain.TransformKind{}
	for _, column := range columns {
		for _, lineage := range row[column].Lineage {
			for _, kind := range lineage.TransformsApplied {
				if _, ok := seen[kind]; ok {
					continue
				}
				seen[kind] = struct{}{}
				chain = append(chain, kind)
			}
		}
	}
	encoded, err := json.Marshal(chain)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func tableName(dataset domain.DatasetTag) string {
	if dataset == domain.DatasetBankB {
		return "bank_b"
	}
	return "bank_a"
}

// fileNames assigns uploaded file names to datasets in upload order.
func fileNames(files []File) map[domain.DatasetTag]string {
	out := make(map[domain.DatasetTag]string, 2)
	if len(files) > 0 {
		out[domain.DatasetBankA] = files[0].Name
	}
	if len(files) > 1 {
		out[domain.DatasetBankB] = files[1].Name
	}
	return out
}

func countColumns(rows []map[string]any) int {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for key := range row {
			seen[key] = struct{}{}
		}
	}
	return len(seen)
}
