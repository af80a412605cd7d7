// Package diff detects works added since the previous snapshot and renders
// the change summary used for data-update commits.
package diff

import (
	"fmt"
	"strings"
	"time"

	"github.com/matsen/citewatch/internal/work"
)

// AddedWork is a work absent from the previous snapshot.
type AddedWork struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Year  int    `json:"year,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Report lists added works in the order of the current collection.
type Report struct {
	Added         []AddedWork `json:"added"`
	Count         int         `json:"count"`
	PreviousTotal int         `json:"previous_total"`
	CurrentTotal  int         `json:"current_total"`
}

// Compare returns the works in cur whose identifiers are not in prev.
// A nil or empty prev (first run) makes every current work an addition.
func Compare(prev, cur []work.Work) Report {
	seen := make(map[string]bool, len(prev))
	for _, w := range prev {
		if w.ID != "" {
			seen[w.ID] = true
		}
	}

	r := Report{
		Added:         []AddedWork{},
		PreviousTotal: len(prev),
		CurrentTotal:  len(cur),
	}
	for _, w := range cur {
		if w.ID == "" || seen[w.ID] {
			continue
		}
		r.Added = append(r.Added, AddedWork{
			ID:    w.ID,
			Title: w.Title,
			Year:  w.PublicationYear,
			URL:   w.URL(),
		})
	}
	r.Count = len(r.Added)
	return r
}

// Message renders the report as a commit message dated on date.
func (r Report) Message(date time.Time) string {
	if r.Count == 0 {
		return "Data update: no new papers added\n"
	}

	var b strings.Builder
	noun := "papers"
	if r.Count == 1 {
		noun = "paper"
	}
	fmt.Fprintf(&b, "Data update (%s): %d new %s added\n\n", date.Format("2006-01-02"), r.Count, noun)
	b.WriteString("Newly added papers:\n")

	for i, a := range r.Added {
		title := a.Title
		if title == "" {
			title = "(untitled)"
		}
		year := "year unknown"
		if a.Year != 0 {
			year = fmt.Sprint(a.Year)
		}

		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, title, year)
		if a.URL != "" {
			fmt.Fprintf(&b, "   URL: %s\n", a.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}
