package classify

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/matsen/citewatch/internal/work"
)

// DefaultWorkers is the classification parallelism used when none is given.
const DefaultWorkers = 4

// TextBlob builds the lower-cased text the rules are matched against:
// title, venue, abstract and concept names, one per line.
func TextBlob(w work.Work) string {
	parts := make([]string, 0, 3+len(w.Concepts))
	for _, s := range []string{w.Title, w.HostVenue, w.Abstract} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	for _, c := range w.Concepts {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.ToLower(strings.Join(parts, " \n"))
}

// Classify returns the sorted tag set for w. Every matching rule contributes
// its tag and any tags it implies.
func (rs *RuleSet) Classify(w work.Work) []string {
	blob := TextBlob(w)
	if blob == "" {
		return []string{}
	}

	var tags []string
	for i, re := range rs.patterns {
		if !re.MatchString(blob) {
			continue
		}
		tags = append(tags, rs.rules[i].Name)
		tags = append(tags, rs.rules[i].Implies...)
	}
	return work.UniqueSorted(tags)
}

// ClassifyAll returns a copy of works with Tags replaced by classifier output.
// Works are classified concurrently; the result keeps the input order.
func ClassifyAll(ctx context.Context, rs *RuleSet, works []work.Work, workers int) ([]work.Work, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	out := make([]work.Work, len(works))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range works {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w := works[i]
			w.Tags = rs.Classify(w)
			out[i] = w
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
