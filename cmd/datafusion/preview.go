package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/export"
	"github.com/rpattn/datafusion/internal/ingestion"
	"github.com/rpattn/datafusion/internal/repository"
	"github.com/rpattn/datafusion/internal/synthetic"
	"github.com/rpattn/datafusion/internal/transformations"
)

var previewFlags struct {
	bankA      string
	bankB      string
	mappings   string
	transforms string
	strict     bool
	expand     int
	seed       uint64
	format     string
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Build a merge preview from two local files",
	Long: `Parses the Bank A and Bank B files, applies the approved mappings and transforms
and writes the merged preview to stdout.

Mappings and transforms are JSON arrays. Without --mappings every column maps to
itself.

Example:
  datafusion preview --bank-a a.csv --bank-b b.xlsx --mappings mappings.json --format csv`,
	RunE: runPreview,
}

func init() {
	f := previewCmd.Flags()
	f.StringVar(&previewFlags.bankA, "bank-a", "", "Bank A file (csv or xlsx)")
	f.StringVar(&previewFlags.bankB, "bank-b", "", "Bank B file (csv or xlsx)")
	f.StringVar(&previewFlags.mappings, "mappings", "", "JSON file with approved mappings")
	f.StringVar(&previewFlags.transforms, "transforms", "", "JSON file with transform specs")
	f.BoolVar(&previewFlags.strict, "strict", false, "report casts that degrade values to null")
	f.IntVar(&previewFlags.expand, "expand", 0, "expand the source rows to this many synthetic rows")
	f.Uint64Var(&previewFlags.seed, "seed", 1, "seed for --expand")
	f.StringVar(&previewFlags.format, "format", "json", "output format: csv or json")
	_ = previewCmd.MarkFlagRequired("bank-a")
	_ = previewCmd.MarkFlagRequired("bank-b")
}

func runPreview(cmd *cobra.Command, _ []string) error {
	if previewFlags.format != "csv" && previewFlags.format != "json" {
		return fmt.Errorf("unsupported format %q", previewFlags.format)
	}

	bankA, err := os.Open(previewFlags.bankA)
	if err != nil {
		return err
	}
	defer bankA.Close()
	bankB, err := os.Open(previewFlags.bankB)
	if err != nil {
		return err
	}
	defer bankB.Close()

	logs := repository.NewMemoryIngestionLogRepository()
	runID := uuid.New()
	pair, err := ingestion.NewService(logs, logger).ParsePair(cmd.Context(), runID,
		ingestion.Upload{FileName: filepath.Base(previewFlags.bankA), Data: bankA},
		ingestion.Upload{FileName: filepath.Base(previewFlags.bankB), Data: bankB},
	)
	if err != nil {
		return err
	}
	if entries, _ := logs.ListByRun(cmd.Context(), runID, 100, 0); len(entries) > 0 {
		for _, entry := range entries {
			logger.Warn("ingestion issue", zap.String("file", entry.FileName), zap.String("error", entry.ErrorMessage))
		}
	}

	var mappings []domain.ApprovedMapping
	if previewFlags.mappings != "" {
		if err := readJSONFile(previewFlags.mappings, &mappings); err != nil {
			return err
		}
	} else {
		mappings = identityMappings(pair)
	}
	var transforms []domain.TransformSpec
	if previewFlags.transforms != "" {
		if err := readJSONFile(previewFlags.transforms, &transforms); err != nil {
			return err
		}
		if err := domain.ValidateTransforms(transforms); err != nil {
			return err
		}
	}

	rows := pair.Rows()
	if previewFlags.expand > 0 {
		rows = synthetic.NewExpander(previewFlags.seed).Expand(rows, previewFlags.expand)
	}
	builder := transformations.NewBuilder(transformations.WithStrict(previewFlags.strict || cfg.Preview.Strict))
	preview := builder.Build(mappings, transforms, rows)
	preview.RunID = runID
	for _, issue := range preview.Issues {
		logger.Warn("transform issue", zap.Any("issue", issue))
	}

	return writePreview(cmd.OutOrStdout(), preview, previewFlags.format)
}

func writePreview(w io.Writer, preview domain.MergePreview, format string) error {
	if format == "csv" {
		columns, rows := export.PreviewTable(preview)
		_, err := fmt.Fprintln(w, export.ToCSV(columns, rows))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(preview)
}

// identityMappings maps every uploaded column onto itself, Bank A columns first.
func identityMappings(pair ingestion.Pair) []domain.ApprovedMapping {
	seen := make(map[string]struct{})
	var out []domain.ApprovedMapping
	for _, profile := range []domain.DatasetProfile{pair.BankA.Profile, pair.BankB.Profile} {
		for _, column := range profile.Columns {
			if _, ok := seen[column.Name]; ok {
				continue
			}
			seen[column.Name] = struct{}{}
			out = append(out, domain.ApprovedMapping{FromColumn: column.Name, ToColumn: column.Name})
		}
	}
	return out
}

func readJSONFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
