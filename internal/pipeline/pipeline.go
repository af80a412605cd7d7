// Package pipeline runs the citation ingestion batch: resolve the target,
// paginate its citations, classify, apply overrides, diff, aggregate and
// persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/matsen/citewatch/internal/classify"
	"github.com/matsen/citewatch/internal/dataset"
	"github.com/matsen/citewatch/internal/diff"
	"github.com/matsen/citewatch/internal/observability"
	"github.com/matsen/citewatch/internal/openalex"
	"github.com/matsen/citewatch/internal/overrides"
	"github.com/matsen/citewatch/internal/stats"
	"github.com/matsen/citewatch/internal/work"
)

// Errors identifying the failing stage of a run.
var (
	// ErrResolution indicates the target work could not be resolved.
	ErrResolution = errors.New("resolving target work")

	// ErrFetch indicates the citation listing could not be fully traversed.
	ErrFetch = errors.New("fetching citations")

	// ErrNoRawSnapshot indicates Process was asked to run before any fetch.
	ErrNoRawSnapshot = errors.New("no raw snapshot; run fetch first")
)

// Fetcher resolves the target work and lists the works citing it.
// *openalex.Client implements it.
type Fetcher interface {
	ResolveDOI(ctx context.Context, doi string) (*openalex.RawWork, error)
	Citations(ctx context.Context, citedByURL string) iter.Seq2[work.Work, error]
}

// Options configures one pipeline.
type Options struct {
	DOI        string
	Paths      dataset.Paths
	Rules      *classify.RuleSet    // Nil uses the built-in rules
	Overrides  overrides.Patch      // Nil applies no overrides
	Venues     *classify.VenueTable // Nil uses the built-in table
	TopAuthors int                  // 0 keeps every author
	Workers    int                  // Classification parallelism
	DryRun     bool                 // Compute everything but write nothing
}

// Pipeline orchestrates a run. It holds no state between runs.
type Pipeline struct {
	fetcher Fetcher
	opts    Options
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the run logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics attaches run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock replaces time.Now, for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a pipeline. The fetcher may be nil when only Process is used.
func New(f Fetcher, opts Options, options ...Option) *Pipeline {
	if opts.Rules == nil {
		opts.Rules = classify.Default()
	}
	if opts.Venues == nil {
		opts.Venues = classify.DefaultVenueTable()
	}
	if opts.Overrides == nil {
		opts.Overrides = overrides.Patch{}
	}
	if opts.Workers <= 0 {
		opts.Workers = classify.DefaultWorkers
	}

	p := &Pipeline{
		fetcher: f,
		opts:    opts,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Result summarizes a completed run.
type Result struct {
	Target     work.Target    `json:"target"`
	Fetched    int            `json:"fetched"`
	Duplicates int            `json:"duplicates"`
	Hidden     int            `json:"hidden"`
	Stats      stats.Snapshot `json:"stats"`
	Diff       diff.Report    `json:"diff"`
	Persisted  bool           `json:"persisted"`
}

// Run executes the full pipeline and atomically replaces the dataset.
// Any error leaves the previously published dataset untouched.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := p.now()

	raw, dups, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	res, err := p.process(ctx, raw, start)
	if err != nil {
		return nil, err
	}
	res.Duplicates = dups
	return res, nil
}

// Fetch resolves the target and collects its citing works, sorted by
// identifier. Unless DryRun is set, the result is saved as the raw snapshot.
func (p *Pipeline) Fetch(ctx context.Context) (*dataset.CitationsDoc, error) {
	raw, _, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if !p.opts.DryRun {
		if err := dataset.SaveRaw(p.opts.Paths, *raw); err != nil {
			return nil, err
		}
		p.logger.Info().Str("path", p.opts.Paths.Raw()).Int("works", len(raw.Results)).Msg("saved raw snapshot")
	}
	return raw, nil
}

// Process classifies, merges, diffs, aggregates and persists the raw
// snapshot from the last Fetch. It makes no network calls.
func (p *Pipeline) Process(ctx context.Context) (*Result, error) {
	start := p.now()

	raw, err := dataset.ReadCitations(p.opts.Paths.Raw())
	if err != nil {
		return nil, fmt.Errorf("reading raw snapshot: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRawSnapshot, p.opts.Paths.Raw())
	}
	p.logger.Info().Int("works", len(raw.Results)).Msg("loaded raw snapshot")

	return p.process(ctx, raw, start)
}

func (p *Pipeline) fetch(ctx context.Context) (*dataset.CitationsDoc, int, error) {
	if p.fetcher == nil {
		return nil, 0, fmt.Errorf("%w: no fetcher configured", ErrFetch)
	}

	target, err := p.fetcher.ResolveDOI(ctx, p.opts.DOI)
	if err != nil {
		return nil, 0, fmt.Errorf("%w %s: %w", ErrResolution, p.opts.DOI, err)
	}

	doc := &dataset.CitationsDoc{Work: target.Target(p.opts.DOI), Results: []work.Work{}}
	seen := make(map[string]bool)
	dups := 0

	for w, err := range p.fetcher.Citations(ctx, target.CitedByAPIURL) {
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		if seen[w.ID] {
			dups++
			p.logger.Warn().Str("work_id", w.ID).Msg("duplicate work in listing, keeping first")
			continue
		}
		seen[w.ID] = true
		doc.Results = append(doc.Results, w)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	work.SortByID(doc.Results)
	p.logger.Info().
		Int("works", len(doc.Results)).
		Int("duplicates", dups).
		Msg("fetched citing works")
	return doc, dups, nil
}

func (p *Pipeline) process(ctx context.Context, raw *dataset.CitationsDoc, start time.Time) (*Result, error) {
	tagged, err := classify.ClassifyAll(ctx, p.opts.Rules, raw.Results, p.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("classifying works: %w", err)
	}

	kept, sum := overrides.Apply(tagged, p.opts.Overrides)
	p.metrics.ObserveHidden(sum.Hidden)
	p.logger.Info().
		Int("hidden", sum.Hidden).
		Int("modified", sum.Modified).
		Int("unmatched", len(sum.Unmatched)).
		Msg("applied overrides")
	for _, id := range sum.Unmatched {
		p.logger.Debug().Str("work_id", id).Msg("override targets a work not in the collection")
	}

	published := make([]work.Work, len(kept))
	for i, w := range kept {
		w = w.Published()
		if w.Tags == nil {
			w.Tags = []string{}
		}
		if w.Authorships == nil {
			w.Authorships = []work.Authorship{}
		}
		published[i] = w
	}
	work.SortByID(published)

	report := diff.Compare(p.previous(), published)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := p.now()
	snap := stats.Compute(published, stats.Options{
		TopAuthors:  p.opts.TopAuthors,
		Categories:  p.opts.Rules.Categories(),
		Venues:      p.opts.Venues,
		GeneratedAt: now,
		Duration:    now.Sub(start),
	})

	res := &Result{
		Target:  raw.Work,
		Fetched: len(raw.Results),
		Hidden:  sum.Hidden,
		Stats:   snap,
		Diff:    report,
	}

	if p.opts.DryRun {
		p.logger.Info().Msg("dry run, dataset not written")
		return res, nil
	}

	doc := dataset.CitationsDoc{Work: raw.Work, Results: published}
	if err := dataset.Commit(p.opts.Paths, doc, snap); err != nil {
		return nil, err
	}
	res.Persisted = true

	p.metrics.ObserveRun(snap.TotalWorks, snap.CitationsSum, report.Count, p.now().Sub(start), now)
	p.logger.Info().
		Str("citations", p.opts.Paths.Citations()).
		Str("stats", p.opts.Paths.Stats()).
		Int("total_works", snap.TotalWorks).
		Int("citations_sum", snap.CitationsSum).
		Int("added", report.Count).
		Msg("dataset published")
	return res, nil
}

// previous loads the published collection before it is replaced. An absent
// or unreadable snapshot counts as empty.
func (p *Pipeline) previous() []work.Work {
	doc, err := dataset.ReadCitations(p.opts.Paths.Citations())
	if err != nil {
		p.logger.Warn().Err(err).Msg("previous snapshot unreadable, treating as empty")
		return nil
	}
	if doc == nil {
		return nil
	}
	return doc.Results
}
