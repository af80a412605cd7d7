package openalex

import (
	"sort"
	"strings"

	"github.com/matsen/citewatch/internal/work"
)

// maxAbstractWords bounds abstract reconstruction against oversized payloads.
const maxAbstractWords = 100_000

// ToWork converts an API record to an untagged Work.
func (r RawWork) ToWork() work.Work {
	w := work.Work{
		ID:              work.NormalizeID(r.ID),
		DOI:             work.NormalizeDOI(r.DOI),
		Title:           r.displayTitle(),
		PublicationYear: r.PublicationYear,
		HostVenue:       r.venue(),
		CitedByCount:    max(r.CitedByCount, 0),
		Abstract:        reconstructAbstract(r.AbstractInvertedIndex),
		Authorships:     mapAuthorships(r.Authorships),
		Tags:            []string{},
	}

	if r.PrimaryLocation != nil {
		w.LandingPageURL = r.PrimaryLocation.LandingPageURL
	}

	for _, c := range r.Concepts {
		if c.DisplayName != "" {
			w.Concepts = append(w.Concepts, c.DisplayName)
		}
	}

	return w
}

// Target summarizes a resolved work for the citations document.
func (r RawWork) Target(doi string) work.Target {
	return work.Target{
		DOI:          work.NormalizeDOI(doi),
		OpenAlexID:   r.ID,
		DisplayName:  r.displayTitle(),
		CitedByCount: r.CitedByCount,
	}
}

func (r RawWork) displayTitle() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Title
}

// venue prefers the legacy host_venue name, then the primary location source.
func (r RawWork) venue() string {
	if r.HostVenue != nil && r.HostVenue.DisplayName != "" {
		return r.HostVenue.DisplayName
	}
	if r.PrimaryLocation != nil && r.PrimaryLocation.Source != nil {
		return r.PrimaryLocation.Source.DisplayName
	}
	return ""
}

func mapAuthorships(in []Authorship) []work.Authorship {
	out := make([]work.Authorship, 0, len(in))
	for _, a := range in {
		as := work.Authorship{
			AuthorID: a.Author.ID,
			Name:     strings.TrimSpace(a.Author.DisplayName),
		}
		for _, inst := range a.Institutions {
			if inst.DisplayName != "" {
				as.Institutions = append(as.Institutions, inst.DisplayName)
			}
		}
		out = append(out, as)
	}
	return out
}

// reconstructAbstract rebuilds abstract text from an inverted index.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}

	total := 0
	for _, positions := range index {
		total += len(positions)
	}
	if total > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, total)
	for word, positions := range index {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].pos != pairs[j].pos {
			return pairs[i].pos < pairs[j].pos
		}
		return pairs[i].word < pairs[j].word
	})

	var b strings.Builder
	b.Grow(total * 7)
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.word)
	}
	return b.String()
}
