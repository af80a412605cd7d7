package stats

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/matsen/citewatch/internal/work"
)

var testTime = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

func author(name string, insts ...string) work.Authorship {
	return work.Authorship{Name: name, Institutions: insts}
}

func TestCompute_ExampleScenario(t *testing.T) {
	// W3 was hidden upstream; only W1 and W2 reach the aggregator.
	works := []work.Work{
		{ID: "W1", PublicationYear: 2020, HostVenue: "SIGMOD", CitedByCount: 10, Authorships: []work.Authorship{author("A")}},
		{ID: "W2", PublicationYear: 2020, HostVenue: "SIGMOD", CitedByCount: 5, Authorships: []work.Authorship{author("B")}},
	}

	s := Compute(works, Options{GeneratedAt: testTime, Duration: 1500 * time.Millisecond})

	if s.TotalWorks != 2 {
		t.Errorf("TotalWorks = %d, want 2", s.TotalWorks)
	}
	if s.CitationsSum != 15 {
		t.Errorf("CitationsSum = %d, want 15", s.CitationsSum)
	}
	if !reflect.DeepEqual(s.ByYear, map[int]int{2020: 2}) {
		t.Errorf("ByYear = %v, want map[2020:2]", s.ByYear)
	}
	if s.ByAuthor["A"] != 1 {
		t.Errorf("ByAuthor[A] = %d, want 1", s.ByAuthor["A"])
	}
	if len(s.TopAuthors) != 2 {
		t.Fatalf("TopAuthors = %v, want 2 entries", s.TopAuthors)
	}
	if a := s.TopAuthors[0]; a.Name != "A" || a.Papers != 1 || a.AvgCitations != 10.0 {
		t.Errorf("TopAuthors[0] = %+v, want A with 1 paper avg 10", a)
	}
	if s.ByVenue["SIGMOD"] != 2 {
		t.Errorf("ByVenue = %v, want SIGMOD:2", s.ByVenue)
	}
	if s.LastUpdated != "2026-03-01T12:30:00Z" {
		t.Errorf("LastUpdated = %q", s.LastUpdated)
	}
	if s.ExecutionTimeSeconds != 1.5 {
		t.Errorf("ExecutionTimeSeconds = %v, want 1.5", s.ExecutionTimeSeconds)
	}
}

func TestCompute_Invariants(t *testing.T) {
	works := []work.Work{
		{ID: "W1", PublicationYear: 2019, Tags: []string{"B-tree", "Learned Index"}},
		{ID: "W2", Tags: []string{"Learned Index"}},
		{ID: "W3", PublicationYear: 2021, Tags: []string{"GPU"}, CitedByCount: -4},
	}

	s := Compute(works, Options{GeneratedAt: testTime})

	yearSum := 0
	for _, n := range s.ByYear {
		yearSum += n
	}
	if yearSum > s.TotalWorks {
		t.Errorf("sum(by_year) = %d > total_works %d", yearSum, s.TotalWorks)
	}
	if yearSum != 2 {
		t.Errorf("sum(by_year) = %d, want 2 (missing year excluded)", yearSum)
	}

	tagSum := 0
	for _, n := range s.ByTag {
		tagSum += n
	}
	if tagSum < s.TotalWorks {
		t.Errorf("sum(by_tag) = %d < total_works %d", tagSum, s.TotalWorks)
	}
	if s.ByTag["Learned Index"] != 2 {
		t.Errorf("ByTag[Learned Index] = %d, want 2", s.ByTag["Learned Index"])
	}
	if s.CitationsSum != 0 {
		t.Errorf("CitationsSum = %d, want 0 (negative counts clamp)", s.CitationsSum)
	}
}

func TestCompute_TagCategories(t *testing.T) {
	works := []work.Work{
		{ID: "W1", Tags: []string{"B-tree", "Custom"}},
		{ID: "W2", Tags: []string{"B-tree"}},
	}
	cats := map[string]string{"B-tree": "Structure", "GPU": "Hardware/System"}

	s := Compute(works, Options{Categories: cats})

	want := map[string]map[string]int{
		"Structure": {"B-tree": 2},
		"Other":     {"Custom": 1},
	}
	if !reflect.DeepEqual(s.ByTagCategory, want) {
		t.Errorf("ByTagCategory = %v, want %v", s.ByTagCategory, want)
	}
	wantCats := map[string]string{"B-tree": "Structure", "GPU": "Hardware/System", "Custom": "Other"}
	if !reflect.DeepEqual(s.TagCategories, wantCats) {
		t.Errorf("TagCategories = %v, want %v", s.TagCategories, wantCats)
	}
	for cat, tags := range s.ByTagCategory {
		for tag := range tags {
			if s.TagCategories[tag] != cat {
				t.Errorf("tag %q counted under %q but TagCategories has %q", tag, cat, s.TagCategories[tag])
			}
		}
	}
	if len(cats) != 2 {
		t.Error("Compute() modified Options.Categories")
	}
}

func TestCompute_AuthorRanking(t *testing.T) {
	works := []work.Work{
		{ID: "W1", CitedByCount: 4, Authorships: []work.Authorship{author("Carol"), author("Bob"), author("Alice")}},
		{ID: "W2", CitedByCount: 2, Authorships: []work.Authorship{author("Carol"), author("Dave")}},
		{ID: "W3", CitedByCount: 8, Authorships: []work.Authorship{author("Dave"), author("Dave")}},
		{ID: "W4", CitedByCount: 0, Authorships: []work.Authorship{author("")}},
	}

	s := Compute(works, Options{})

	var names []string
	for _, a := range s.TopAuthors {
		names = append(names, a.Name)
	}
	// Dave: 2 papers avg 5; Carol: 2 papers avg 3; Alice and Bob tie at 1 paper avg 4.
	want := []string{"Dave", "Carol", "Alice", "Bob", UnknownAuthor}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ranking = %v, want %v", names, want)
	}
	if s.ByAuthor["Dave"] != 2 {
		t.Errorf("ByAuthor[Dave] = %d, want 2 (duplicate authorship counted once)", s.ByAuthor["Dave"])
	}
	if s.TopAuthors[0].SumCitations != 10 {
		t.Errorf("Dave SumCitations = %d, want 10", s.TopAuthors[0].SumCitations)
	}

	capped := Compute(works, Options{TopAuthors: 2})
	if len(capped.TopAuthors) != 2 || capped.TopAuthors[1].Name != "Carol" {
		t.Errorf("capped TopAuthors = %v", capped.TopAuthors)
	}
	if len(capped.ByAuthor) != 5 {
		t.Errorf("ByAuthor should stay complete under the cap, got %v", capped.ByAuthor)
	}
}

func TestCompute_InstitutionYears(t *testing.T) {
	works := []work.Work{
		{ID: "W1", PublicationYear: 2019, Authorships: []work.Authorship{author("A", "MIT")}},
		{ID: "W2", PublicationYear: 2021, Authorships: []work.Authorship{author("A", "MIT", "CMU")}},
		{ID: "W3", PublicationYear: 2020, Authorships: []work.Authorship{author("A", "MIT")}},
		{ID: "W4", Authorships: []work.Authorship{author("A", "ETH")}},
	}

	s := Compute(works, Options{})
	a := s.TopAuthors[0]

	if want := []string{"CMU", "ETH", "MIT"}; !reflect.DeepEqual(a.Institutions, want) {
		t.Errorf("Institutions = %v, want %v", a.Institutions, want)
	}
	want := map[string]InstitutionSpan{
		"MIT": {YearRange: "2019-2021", Years: []int{2019, 2020, 2021}},
		"CMU": {YearRange: "2021-2021", Years: []int{2021}},
	}
	if !reflect.DeepEqual(a.InstitutionYears, want) {
		t.Errorf("InstitutionYears = %v, want %v", a.InstitutionYears, want)
	}
}

func TestCompute_VenueLimit(t *testing.T) {
	works := []work.Work{
		{ID: "W1", HostVenue: "Proceedings of the VLDB Endowment"},
		{ID: "W2", HostVenue: "Proc. VLDB Endow. 2021"},
		{ID: "W3", HostVenue: "Zeta Workshop"},
		{ID: "W4", HostVenue: "Alpha Workshop"},
		{ID: "W5"},
	}

	s := Compute(works, Options{VenueLimit: 3})

	want := map[string]int{"PVLDB": 2, "Alpha Workshop": 1, "Unknown": 1}
	if !reflect.DeepEqual(s.ByVenue, want) {
		t.Errorf("ByVenue = %v, want %v", s.ByVenue, want)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	works := []work.Work{
		{ID: "W1", PublicationYear: 2020, Tags: []string{"GPU"}, Authorships: []work.Authorship{author("X", "I1", "I2")}},
		{ID: "W2", PublicationYear: 2021, Tags: []string{"Disk"}, Authorships: []work.Authorship{author("Y", "I2"), author("X", "I1")}},
	}
	opts := Options{GeneratedAt: testTime, Categories: map[string]string{"GPU": "Hardware/System"}}

	first, err := json.Marshal(Compute(works, opts))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(Compute(works, opts))
		if err != nil {
			t.Fatal(err)
		}
		if string(again) != string(first) {
			t.Fatalf("Compute() output differs between runs:\n%s\n%s", first, again)
		}
	}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, Options{GeneratedAt: testTime})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"by_year", "by_tag", "by_author", "top_authors", "tag_categories", "by_venue"} {
		if decoded[key] == nil {
			t.Errorf("%s encoded as null, want empty", key)
		}
	}
}
