package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/datafusion/internal/config"
	"github.com/rpattn/datafusion/internal/logging"
)

var (
	verbose    bool
	configPath string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "datafusion",
	Short: "Reconcile and merge two bank datasets",
	Long: `datafusion profiles two uploaded bank datasets, proposes column mappings,
applies transforms and builds a merged preview with per-cell lineage.

Run "datafusion serve" to start the HTTP API or "datafusion preview" to build a
preview from local files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger, err = logging.New(cfg.Log.Level, verbose)
		if err != nil {
			return err
		}
		if cfg.Source != "" {
			logger.Debug("config loaded", zap.String("source", cfg.Source))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")

	rootCmd.AddCommand(serveCmd, previewCmd, classifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
