// Package openalex provides a rate-limited client for the OpenAlex works API:
// exact work resolution by DOI and cursor-paginated citation listing.
//
// API documentation: https://docs.openalex.org/
package openalex

import "encoding/json"

// RawWork is a work record as returned by the OpenAlex API.
type RawWork struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	Title           string       `json:"title"`
	DisplayName     string       `json:"display_name"`
	PublicationYear int          `json:"publication_year"`
	CitedByCount    int          `json:"cited_by_count"`
	CitedByAPIURL   string       `json:"cited_by_api_url"`
	HostVenue       *Location    `json:"host_venue"` // Legacy field, still present on older records
	PrimaryLocation *Location    `json:"primary_location"`
	Authorships     []Authorship `json:"authorships"`
	Concepts        []Concept    `json:"concepts"`

	// Abstract is stored as an inverted index: word -> positions.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// Location is where a work is hosted.
type Location struct {
	DisplayName    string  `json:"display_name"`
	LandingPageURL string  `json:"landing_page_url"`
	Source         *Source `json:"source"`
}

// Source is a publication venue (journal, conference, repository).
type Source struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Authorship is an author's contribution to a work.
type Authorship struct {
	AuthorPosition string        `json:"author_position"`
	Author         AuthorInfo    `json:"author"`
	Institutions   []Institution `json:"institutions"`
}

// AuthorInfo contains basic author information.
type AuthorInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Institution is an author affiliation.
type Institution struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Concept is an OpenAlex topic tag.
type Concept struct {
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
}

// listResponse is one page of a works listing. Results are kept raw so a
// single malformed record can be skipped without discarding the page.
type listResponse struct {
	Results []json.RawMessage `json:"results"`
	Meta    Meta              `json:"meta"`
}

// Meta carries pagination state.
type Meta struct {
	Count      int     `json:"count"`
	PerPage    int     `json:"per_page"`
	NextCursor *string `json:"next_cursor"`
}

// selectFields is the projection requested for citing works.
var selectFields = []string{
	"id", "display_name", "publication_year", "doi", "cited_by_count",
	"primary_location", "authorships", "concepts", "abstract_inverted_index",
}
