package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/mapping"
)

var classifyFlags struct {
	candidates string
	threshold  float64
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Split mapping candidates around a confidence threshold",
	Long: `Reads a JSON array of mapping candidates and prints how many would be auto
accepted at the threshold, plus the estimated review minutes saved.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var candidates []domain.MappingCandidate
		if err := readJSONFile(classifyFlags.candidates, &candidates); err != nil {
			return err
		}
		threshold := cfg.Mapping.Threshold
		if cmd.Flags().Changed("threshold") {
			threshold = classifyFlags.threshold
		}
		stats := mapping.ClassifyWithReviewTime(candidates, threshold, cfg.Mapping.ReviewSeconds)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFlags.candidates, "candidates", "", "JSON file with mapping candidates")
	classifyCmd.Flags().Float64Var(&classifyFlags.threshold, "threshold", mapping.DefaultThreshold, "confidence threshold")
	_ = classifyCmd.MarkFlagRequired("candidates")
}
