package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matsen/citewatch/internal/classify"
	"github.com/matsen/citewatch/internal/observability"
	"github.com/matsen/citewatch/internal/openalex"
	"github.com/matsen/citewatch/internal/overrides"
	"github.com/matsen/citewatch/internal/pipeline"
)

var dryRun bool

func init() {
	for _, cmd := range []*cobra.Command{runCmd, fetchCmd, processCmd} {
		addPipelineFlags(cmd)
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute everything but write no files")
		rootCmd.AddCommand(cmd)
	}
}

// addPipelineFlags registers the flags shared by the pipeline commands.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("doi", "", "DOI of the cited publication")
	cmd.Flags().String("mailto", "", "Contact address sent to OpenAlex")
	cmd.Flags().String("overrides", "", "Curator override file")
	cmd.Flags().String("tag-rules", "", "Tag rule file replacing the built-in rules")
	cmd.Flags().Int("top-authors", 0, "Cap the author ranking (0 = every author)")
	cmd.Flags().Int("workers", 0, "Classification parallelism")
	cmd.Flags().String("metrics-file", "", "Write Prometheus text metrics here after a successful run")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, classify and publish the citation dataset",
	Long: `Run the full pipeline: resolve the target DOI, fetch every citing work,
classify, apply overrides, report additions and publish citations.json and
stats.json.

A failed run leaves the previously published files untouched.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch citing works into the raw snapshot",
	Long: `Resolve the target DOI and fetch every citing work into raw_citations.json
without classifying or publishing. Use 'citewatch process' afterwards.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Classify and publish the raw snapshot",
	Long: `Classify the works in raw_citations.json, apply overrides and publish
citations.json and stats.json. Makes no network requests.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

// RunResponse is the response for the run and process commands.
type RunResponse struct {
	RunID string `json:"run_id"`
	*pipeline.Result
}

// FetchResponse is the response for the fetch command.
type FetchResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	Works  int    `json:"works"`
}

// signalContext returns a context canceled on interrupt or termination.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// buildPipeline wires the API client when online and loads the tag rules
// and overrides when publish is set. Fetching alone needs neither file, so
// a malformed overrides file does not block it.
func buildPipeline(runID string, online, publish bool) (*pipeline.Pipeline, *observability.Metrics, error) {
	runLogger := observability.WithRun(logger, runID, cfg.TargetDOI)

	rules, patch, err := loadClassificationInputs(publish)
	if err != nil {
		return nil, nil, err
	}
	if publish {
		runLogger.Debug().
			Int("rules", rules.Len()).
			Int("overrides", len(patch)).
			Msg("loaded classification inputs")
	}

	metrics := observability.NewMetrics()

	var fetcher pipeline.Fetcher
	if online {
		opts := append(cfg.ClientOptions(),
			openalex.WithLogger(runLogger),
			openalex.WithMetrics(metrics),
		)
		fetcher = openalex.NewClient(opts...)
	}

	p := pipeline.New(fetcher, pipeline.Options{
		DOI:        cfg.TargetDOI,
		Paths:      dataPaths(),
		Rules:      rules,
		Overrides:  patch,
		TopAuthors: cfg.TopAuthors,
		Workers:    cfg.Workers,
		DryRun:     dryRun,
	}, pipeline.WithLogger(runLogger), pipeline.WithMetrics(metrics))

	return p, metrics, nil
}

// loadClassificationInputs reads the tag rules and overrides, or returns
// nil for both when they are not needed.
func loadClassificationInputs(publish bool) (*classify.RuleSet, overrides.Patch, error) {
	if !publish {
		return nil, nil, nil
	}
	rules, err := classify.LoadRules(cfg.TagRulesPath)
	if err != nil {
		return nil, nil, err
	}
	patch, err := overrides.Load(cfg.OverridesPath)
	if err != nil {
		return nil, nil, err
	}
	return rules, patch, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	return execute(cmd, true, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.Run(ctx)
	})
}

func runProcess(cmd *cobra.Command, args []string) error {
	return execute(cmd, false, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.Process(ctx)
	})
}

// execute runs a publishing pipeline step and reports its result.
func execute(cmd *cobra.Command, online bool, step func(context.Context, *pipeline.Pipeline) (*pipeline.Result, error)) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	runID := uuid.NewString()
	p, metrics, err := buildPipeline(runID, online, true)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := step(ctx, p)
	if err != nil {
		return err
	}

	if res.Persisted {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			// The dataset is already published; a missing metrics file is not fatal.
			logger.Warn().Err(err).Str("path", cfg.MetricsFile).Msg("metrics not written")
		}
	}

	if humanOutput {
		printRunHuman(res, time.Since(start))
		return nil
	}
	return outputJSON(RunResponse{RunID: runID, Result: res})
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	runID := uuid.NewString()
	p, _, err := buildPipeline(runID, true, false)
	if err != nil {
		return err
	}

	raw, err := p.Fetch(ctx)
	if err != nil {
		return err
	}

	resp := FetchResponse{RunID: runID, Status: "fetched", Works: len(raw.Results)}
	if !dryRun {
		resp.Path = dataPaths().Raw()
	}
	if humanOutput {
		outputHuman("Fetched %d citing works of %s\n", resp.Works, raw.Work.DOI)
		if resp.Path != "" {
			outputHuman("Saved raw snapshot to %s\n", resp.Path)
		}
		return nil
	}
	return outputJSON(resp)
}

func printRunHuman(res *pipeline.Result, elapsed time.Duration) {
	outputHuman("Target: %s (%s)\n", res.Target.DisplayName, res.Target.DOI)
	outputHuman("Fetched %d works", res.Fetched)
	if res.Duplicates > 0 {
		outputHuman(", %d duplicates dropped", res.Duplicates)
	}
	if res.Hidden > 0 {
		outputHuman(", %d hidden by overrides", res.Hidden)
	}
	outputHuman("\n")
	outputHuman("Published %d works with %d citations\n", res.Stats.TotalWorks, res.Stats.CitationsSum)
	outputHuman("New since last run: %d\n", res.Diff.Count)
	for i, a := range res.Diff.Added {
		outputHuman("  %d. %s\n", i+1, truncateString(a.Title, TitleMaxLen))
	}
	if !res.Persisted {
		outputHuman("Dry run: no files written\n")
	}
	outputHuman("Done in %s\n", formatDuration(elapsed))
}
