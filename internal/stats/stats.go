// Package stats computes the aggregate snapshot published next to the
// citation collection.
package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/matsen/citewatch/internal/classify"
	"github.com/matsen/citewatch/internal/work"
)

const (
	// TimestampFormat is the ISO-8601 UTC layout of last_updated.
	TimestampFormat = "2006-01-02T15:04:05Z"

	// DefaultVenueLimit is the number of venues kept in by_venue.
	DefaultVenueLimit = 30

	// UnknownAuthor groups authorships without a display name.
	UnknownAuthor = "unknown"
)

// Snapshot is the derived statistics document for one run.
type Snapshot struct {
	TotalWorks           int                       `json:"total_works"`
	CitationsSum         int                       `json:"citations_sum"`
	LastUpdated          string                    `json:"last_updated"`
	ExecutionTimeSeconds float64                   `json:"execution_time_seconds"`
	ByYear               map[int]int               `json:"by_year"`
	ByTag                map[string]int            `json:"by_tag"`
	ByAuthor             map[string]int            `json:"by_author"`
	TopAuthors           []TopAuthor               `json:"top_authors"`
	TagCategories        map[string]string         `json:"tag_categories"`
	ByTagCategory        map[string]map[string]int `json:"by_tag_category"`
	ByVenue              map[string]int            `json:"by_venue"`
}

// TopAuthor is one entry of the author ranking.
type TopAuthor struct {
	Name             string                     `json:"name"`
	Papers           int                        `json:"papers"`
	SumCitations     int                        `json:"sum_citations"`
	AvgCitations     float64                    `json:"avg_citations"`
	Institutions     []string                   `json:"institutions"`
	InstitutionYears map[string]InstitutionSpan `json:"institution_years"`
}

// InstitutionSpan lists the years an institution appears with an author.
type InstitutionSpan struct {
	YearRange string `json:"year_range"` // "min-max"
	Years     []int  `json:"years"`
}

// Options controls aggregation.
type Options struct {
	// TopAuthors caps the ranking; 0 keeps every author.
	TopAuthors int

	// VenueLimit caps by_venue; 0 uses DefaultVenueLimit.
	VenueLimit int

	// Categories maps tags to categories. Tags missing here fall under
	// classify.DefaultCategory.
	Categories map[string]string

	// Venues normalizes venue names for by_venue. Nil uses the default table.
	Venues *classify.VenueTable

	// GeneratedAt is the capture time; Duration is the run time so far.
	GeneratedAt time.Time
	Duration    time.Duration
}

type authorAgg struct {
	papers    int
	citations int
	insts     map[string]map[int]bool
}

// Compute reduces works into a Snapshot. It is pure: the same input and
// options always yield the same snapshot.
func Compute(works []work.Work, opts Options) Snapshot {
	s := Snapshot{
		TotalWorks:           len(works),
		LastUpdated:          opts.GeneratedAt.UTC().Format(TimestampFormat),
		ExecutionTimeSeconds: roundMillis(opts.Duration),
		ByYear:               map[int]int{},
		ByTag:                map[string]int{},
		ByAuthor:             map[string]int{},
		TopAuthors:           []TopAuthor{},
		TagCategories:        map[string]string{},
		ByTagCategory:        map[string]map[string]int{},
		ByVenue:              map[string]int{},
	}
	for tag, cat := range opts.Categories {
		s.TagCategories[tag] = cat
	}

	venues := opts.Venues
	if venues == nil {
		venues = classify.DefaultVenueTable()
	}
	venueCounts := map[string]int{}
	authors := map[string]*authorAgg{}

	for _, w := range works {
		cites := max(w.CitedByCount, 0)
		s.CitationsSum += cites

		if w.PublicationYear != 0 {
			s.ByYear[w.PublicationYear]++
		}

		for _, tag := range work.UniqueSorted(w.Tags) {
			s.ByTag[tag]++
			cat := opts.Categories[tag]
			if cat == "" {
				cat = classify.DefaultCategory
			}
			// Tags added only by overrides still get a category entry.
			s.TagCategories[tag] = cat
			if s.ByTagCategory[cat] == nil {
				s.ByTagCategory[cat] = map[string]int{}
			}
			s.ByTagCategory[cat][tag]++
		}

		venueCounts[venues.Normalize(w.HostVenue).Label()]++

		// A name listed twice on one work still counts one paper.
		counted := map[string]bool{}
		for _, a := range w.Authorships {
			name := a.Name
			if name == "" {
				name = UnknownAuthor
			}
			agg := authors[name]
			if agg == nil {
				agg = &authorAgg{insts: map[string]map[int]bool{}}
				authors[name] = agg
			}
			if !counted[name] {
				counted[name] = true
				agg.papers++
				agg.citations += cites
			}
			for _, inst := range a.Institutions {
				if inst == "" {
					continue
				}
				if agg.insts[inst] == nil {
					agg.insts[inst] = map[int]bool{}
				}
				if w.PublicationYear != 0 {
					agg.insts[inst][w.PublicationYear] = true
				}
			}
		}
	}

	ranked := make([]TopAuthor, 0, len(authors))
	for name, agg := range authors {
		s.ByAuthor[name] = agg.papers
		ranked = append(ranked, agg.topAuthor(name))
	}
	RankAuthors(ranked)
	if opts.TopAuthors > 0 && len(ranked) > opts.TopAuthors {
		ranked = ranked[:opts.TopAuthors]
	}
	s.TopAuthors = ranked

	limit := opts.VenueLimit
	if limit <= 0 {
		limit = DefaultVenueLimit
	}
	s.ByVenue = topCounts(venueCounts, limit)

	return s
}

func (a *authorAgg) topAuthor(name string) TopAuthor {
	t := TopAuthor{
		Name:             name,
		Papers:           a.papers,
		SumCitations:     a.citations,
		Institutions:     make([]string, 0, len(a.insts)),
		InstitutionYears: map[string]InstitutionSpan{},
	}
	if a.papers > 0 {
		t.AvgCitations = float64(a.citations) / float64(a.papers)
	}

	for inst, years := range a.insts {
		t.Institutions = append(t.Institutions, inst)
		if len(years) == 0 {
			continue
		}
		span := InstitutionSpan{Years: make([]int, 0, len(years))}
		for y := range years {
			span.Years = append(span.Years, y)
		}
		sort.Ints(span.Years)
		span.YearRange = fmt.Sprintf("%d-%d", span.Years[0], span.Years[len(span.Years)-1])
		t.InstitutionYears[inst] = span
	}
	sort.Strings(t.Institutions)
	return t
}

// RankAuthors orders authors by papers descending, then average citations
// descending, then name ascending.
func RankAuthors(authors []TopAuthor) {
	sort.Slice(authors, func(i, j int) bool {
		a, b := authors[i], authors[j]
		if a.Papers != b.Papers {
			return a.Papers > b.Papers
		}
		if a.AvgCitations != b.AvgCitations {
			return a.AvgCitations > b.AvgCitations
		}
		return a.Name < b.Name
	})
}

// topCounts keeps the limit highest counts, ties broken by key.
func topCounts(counts map[string]int, limit int) map[string]int {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = counts[k]
	}
	return out
}

func roundMillis(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
