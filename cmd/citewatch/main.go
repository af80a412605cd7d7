// Package main provides the citewatch CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/matsen/citewatch/internal/config"
	"github.com/matsen/citewatch/internal/dataset"
	"github.com/matsen/citewatch/internal/observability"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool

	configFile string

	// Populated by loadConfig before any subcommand runs.
	v      *viper.Viper
	cfg    *config.Config
	logger zerolog.Logger
)

// flagKeys maps command-line flags to configuration keys. A flag only
// overrides the file and environment when it is set explicitly.
var flagKeys = map[string]string{
	"doi":          "target_doi",
	"mailto":       "mailto",
	"data-dir":     "data_dir",
	"overrides":    "overrides_path",
	"tag-rules":    "tag_rules_path",
	"top-authors":  "top_authors",
	"workers":      "workers",
	"metrics-file": "metrics_file",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// SilenceErrors is set, so every failure is reported here
		exitWithError(exitCodeFor(err), "%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "citewatch",
	Short: "Track and classify the works citing a publication",
	Long: `citewatch maintains a curated dataset of the works citing one publication.

Each run resolves the target DOI against OpenAlex, walks every page of its
citations, tags each work with heuristic rules, applies curator overrides,
reports newly added works and publishes citations.json and stats.json.

All commands output JSON by default; use --human for readable text.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Optional .env with OPENALEX_MAILTO and friends
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./citewatch.yml if present)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding citations.json and stats.json")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, console)")
	rootCmd.Version = Version
}

// loadConfig resolves configuration from defaults, file, environment and
// explicitly set flags, then builds the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	v, err = config.New(configFile)
	if err != nil {
		return err
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("binding --%s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err = config.FromViper(v)
	if err != nil {
		return err
	}

	logger = observability.NewLogger(cfg.Logging, os.Stderr)
	return nil
}

// dataPaths locates the dataset files under the configured data directory.
func dataPaths() dataset.Paths {
	return dataset.Paths{Dir: cfg.DataDir}
}
