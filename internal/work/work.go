// Package work defines the core domain types for citing works.
package work

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// OpenAlexIDPrefix is the URL prefix carried by canonical work identifiers.
	OpenAlexIDPrefix = "https://openalex.org/"

	doiURLPrefix = "https://doi.org/"
)

// doiPattern matches a normalized DOI: "10.<registrant>/<suffix>".
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// Work represents one publication that cites the target work.
type Work struct {
	// Identity
	ID  string `json:"id"`            // Canonical OpenAlex URL, unique across the collection
	DOI string `json:"doi,omitempty"` // Normalized, without URL prefix

	// Metadata
	Title           string `json:"title"`
	PublicationYear int    `json:"publication_year,omitempty"` // 0 if unknown
	HostVenue       string `json:"host_venue,omitempty"`       // Original venue string
	LandingPageURL  string `json:"landing_page_url,omitempty"`
	CitedByCount    int    `json:"cited_by_count"`

	Authorships []Authorship `json:"authorships"`
	Tags        []string     `json:"tags"`

	// Classification input only; stripped before publishing.
	Abstract string   `json:"abstract,omitempty"`
	Concepts []string `json:"concepts,omitempty"`
}

// Authorship is one author's participation in a work.
type Authorship struct {
	AuthorID     string   `json:"author_id,omitempty"`
	Name         string   `json:"name"`
	Institutions []string `json:"institutions,omitempty"`
}

// Target summarizes the cited work every record in the collection refers to.
type Target struct {
	DOI          string `json:"doi"`
	OpenAlexID   string `json:"openalex_id"`
	DisplayName  string `json:"display_name"`
	CitedByCount int    `json:"cited_by_count"`
}

// Published returns a copy of w without the classification-only text fields.
func (w Work) Published() Work {
	w.Abstract = ""
	w.Concepts = nil
	return w
}

// URL returns the best link for a work: landing page, then DOI, then ID.
func (w Work) URL() string {
	switch {
	case w.LandingPageURL != "":
		return w.LandingPageURL
	case w.DOI != "":
		return doiURLPrefix + w.DOI
	default:
		return w.ID
	}
}

// NormalizeDOI strips URL and scheme prefixes from a DOI and lowercases it.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	lower := strings.ToLower(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			lower = lower[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(lower)
}

// ValidDOI reports whether doi is a well-formed normalized DOI.
func ValidDOI(doi string) bool {
	return doiPattern.MatchString(doi)
}

// NormalizeID expands short OpenAlex identifiers ("W123") to canonical URLs.
// Anything else is returned trimmed but otherwise unchanged.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 1 && (id[0] == 'W' || id[0] == 'w') && isDigits(id[1:]) {
		return OpenAlexIDPrefix + "W" + id[1:]
	}
	return id
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// SortByID orders works by identifier in place.
func SortByID(works []Work) {
	sort.SliceStable(works, func(i, j int) bool {
		return works[i].ID < works[j].ID
	})
}

// UniqueSorted returns the distinct non-empty values of tags in ascending order.
func UniqueSorted(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
