package classify

import (
	"regexp"
	"strings"
)

// UnknownVenue is the grouping key for works without a venue.
const UnknownVenue = "Unknown"

var (
	yearRangePattern  = regexp.MustCompile(`\b(19|20)\d{2}\s*[-–/]\s*((19|20)\d{2}|\d{2})\b`)
	yearPattern       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	emptyParenPattern = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	spacePattern      = regexp.MustCompile(`\s+`)
)

// Venue is a normalized venue name with its abbreviation, if known.
type Venue struct {
	Name   string
	Abbrev string
}

// Label is the display key: the abbreviation when resolved, else the name.
func (v Venue) Label() string {
	if v.Abbrev != "" {
		return v.Abbrev
	}
	return v.Name
}

// VenueAbbrev maps a case-insensitive substring of a venue name to an abbreviation.
type VenueAbbrev struct {
	Match  string
	Abbrev string
}

// VenueTable resolves venue abbreviations. Entries are tried in order and
// the first match wins, so more specific names must come first.
type VenueTable struct {
	entries []VenueAbbrev
}

var defaultVenues = []VenueAbbrev{
	{"proceedings of the vldb endowment", "PVLDB"},
	{"proc. vldb endow", "PVLDB"},
	{"pvldb", "PVLDB"},
	{"vldb journal", "VLDBJ"},
	{"very large data bases", "VLDB"},
	{"vldb", "VLDB"},
	{"proceedings of the acm on management of data", "PACMMOD"},
	{"pacmmod", "PACMMOD"},
	{"sigmod", "SIGMOD"},
	{"management of data", "SIGMOD"},
	{"transactions on knowledge and data engineering", "TKDE"},
	{"international conference on data engineering", "ICDE"},
	{"icde", "ICDE"},
	{"transactions on database systems", "TODS"},
	{"neural information processing systems", "NeurIPS"},
	{"neurips", "NeurIPS"},
	{"international conference on machine learning", "ICML"},
	{"innovative data systems research", "CIDR"},
	{"extending database technology", "EDBT"},
	{"symposium on operating systems principles", "SOSP"},
	{"operating systems design and implementation", "OSDI"},
	{"file and storage technologies", "FAST"},
	{"knowledge discovery and data mining", "KDD"},
	{"arxiv", "arXiv"},
}

// NewVenueTable builds a table from entries in priority order.
func NewVenueTable(entries []VenueAbbrev) *VenueTable {
	t := &VenueTable{entries: make([]VenueAbbrev, 0, len(entries))}
	for _, e := range entries {
		m := strings.ToLower(strings.TrimSpace(e.Match))
		if m == "" || e.Abbrev == "" {
			continue
		}
		t.entries = append(t.entries, VenueAbbrev{Match: m, Abbrev: e.Abbrev})
	}
	return t
}

// DefaultVenueTable returns the built-in database and systems venue table.
func DefaultVenueTable() *VenueTable {
	return NewVenueTable(defaultVenues)
}

// Normalize strips years, collapses whitespace and resolves an abbreviation.
// An empty venue normalizes to UnknownVenue.
func (t *VenueTable) Normalize(raw string) Venue {
	name := CleanVenue(raw)
	if name == "" {
		return Venue{Name: UnknownVenue}
	}

	lower := strings.ToLower(name)
	for _, e := range t.entries {
		if strings.Contains(lower, e.Match) {
			return Venue{Name: name, Abbrev: e.Abbrev}
		}
	}
	return Venue{Name: name}
}

// CleanVenue removes embedded years and year ranges and tidies whitespace
// and punctuation left behind.
func CleanVenue(raw string) string {
	s := yearRangePattern.ReplaceAllString(raw, " ")
	s = yearPattern.ReplaceAllString(s, " ")
	s = emptyParenPattern.ReplaceAllString(s, " ")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.Trim(s, " -,:;'")
}
