package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/matsen/citewatch/internal/work"
)

func TestClassify(t *testing.T) {
	rs := Default()

	tests := []struct {
		name string
		w    work.Work
		want []string
	}{
		{
			name: "learned index title",
			w:    work.Work{Title: "The Case for Learned Index Structures"},
			want: []string{"Learned Index"},
		},
		{
			name: "disk-based implies learned index",
			w:    work.Work{Title: "A learned index for disk pages"},
			want: []string{"Disk", "Disk-based Learned Index", "Learned Index"},
		},
		{
			name: "learned bloom filter implies bloom filter",
			w:    work.Work{Title: "Partitioned Learned Bloom Filter"},
			want: []string{"Bloom Filter", "Learned Bloom Filter"},
		},
		{
			name: "abstract and concepts contribute",
			w: work.Work{
				Title:    "Fast lookups",
				Abstract: "we evaluate on a GPU",
				Concepts: []string{"Cardinality estimation"},
			},
			want: []string{"Cardinality estimation", "GPU"},
		},
		{
			name: "venue contributes",
			w:    work.Work{Title: "Notes", HostVenue: "Workshop on Distributed Systems"},
			want: []string{"Distributed"},
		},
		{
			name: "case insensitive",
			w:    work.Work{Title: "LSM-TREE COMPACTION"},
			want: []string{"LSM-tree", "Updatable"},
		},
		{
			name: "no match",
			w:    work.Work{Title: "Protein folding"},
			want: []string{},
		},
		{
			name: "empty record",
			w:    work.Work{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rs.Classify(tt.w)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify_Pure(t *testing.T) {
	rs := Default()
	target := work.Work{ID: "W2", Title: "Learned index on GPU"}
	alone := rs.Classify(target)

	batch := []work.Work{
		{ID: "W1", Title: "Bloom filter sketches"},
		target,
		{ID: "W3", Title: "Distributed spatial joins"},
	}
	out, err := ClassifyAll(context.Background(), rs, batch, 2)
	if err != nil {
		t.Fatalf("ClassifyAll() error = %v", err)
	}
	if !reflect.DeepEqual(out[1].Tags, alone) {
		t.Errorf("tags in batch = %v, alone = %v", out[1].Tags, alone)
	}
	if again := rs.Classify(target); !reflect.DeepEqual(again, alone) {
		t.Errorf("second Classify() = %v, want %v", again, alone)
	}
}

func TestClassifyAll_PreservesOrder(t *testing.T) {
	works := make([]work.Work, 50)
	for i := range works {
		works[i] = work.Work{ID: string(rune('A' + i%26)), Title: "learned index"}
	}

	out, err := ClassifyAll(context.Background(), Default(), works, 8)
	if err != nil {
		t.Fatalf("ClassifyAll() error = %v", err)
	}
	if len(out) != len(works) {
		t.Fatalf("len = %d, want %d", len(out), len(works))
	}
	for i := range works {
		if out[i].ID != works[i].ID {
			t.Errorf("out[%d].ID = %q, want %q", i, out[i].ID, works[i].ID)
		}
		if works[i].Tags != nil {
			t.Errorf("input work %d was mutated", i)
		}
		if len(out[i].Tags) != 1 || out[i].Tags[0] != "Learned Index" {
			t.Errorf("out[%d].Tags = %v", i, out[i].Tags)
		}
	}
}

func TestClassifyAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ClassifyAll(ctx, Default(), []work.Work{{Title: "a"}, {Title: "b"}}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ClassifyAll() error = %v, want context.Canceled", err)
	}
}

func TestCompile(t *testing.T) {
	rs, err := Compile([]Rule{
		{Name: "Foo", Pattern: `\bfoo\b`, Implies: []string{"Bar"}},
		{Name: "Baz", Pattern: `baz`, Category: "Things"},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if got := rs.Classify(work.Work{Title: "FOO and baz"}); !reflect.DeepEqual(got, []string{"Bar", "Baz", "Foo"}) {
		t.Errorf("Classify() = %v", got)
	}
	if got := rs.Category("Foo"); got != DefaultCategory {
		t.Errorf("Category(Foo) = %q, want %q", got, DefaultCategory)
	}
	if got := rs.Category("Baz"); got != "Things" {
		t.Errorf("Category(Baz) = %q, want Things", got)
	}
	if got := rs.Category("Bar"); got != DefaultCategory {
		t.Errorf("Category(Bar) = %q, want inherited %q", got, DefaultCategory)
	}
	if got := rs.CategoryNames(); !reflect.DeepEqual(got, []string{"Other", "Things"}) {
		t.Errorf("CategoryNames() = %v", got)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"bad regex", []Rule{{Name: "X", Pattern: "("}}},
		{"missing name", []Rule{{Pattern: "x"}}},
		{"missing pattern", []Rule{{Name: "X"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.rules); !errors.Is(err, ErrInvalidRules) {
				t.Errorf("Compile() error = %v, want ErrInvalidRules", err)
			}
		})
	}
}

func TestDefaultRules(t *testing.T) {
	rs := Default()
	if rs.Len() != len(DefaultRules()) {
		t.Errorf("Len() = %d, want %d", rs.Len(), len(DefaultRules()))
	}

	cats := rs.Categories()
	for _, tag := range []string{"Learned Index", "Bloom Filter", "B-tree", "GPU", "Benchmark"} {
		if cats[tag] == "" || cats[tag] == DefaultCategory {
			t.Errorf("Categories()[%q] = %q, want a named category", tag, cats[tag])
		}
	}

	rules := DefaultRules()
	rules[0].Name = "mutated"
	if DefaultRules()[0].Name == "mutated" {
		t.Error("DefaultRules() returned shared storage")
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file uses defaults", func(t *testing.T) {
		rs, err := LoadRules(filepath.Join(dir, "absent.yml"))
		if err != nil {
			t.Fatalf("LoadRules() error = %v", err)
		}
		if rs.Len() != len(DefaultRules()) {
			t.Errorf("Len() = %d, want defaults", rs.Len())
		}
	})

	t.Run("custom rules", func(t *testing.T) {
		path := filepath.Join(dir, "rules.yml")
		content := `tag_rules:
  - name: Graph
    pattern: '\bgraph(s)?\b'
    category: Data type
  - name: Graph Index
    pattern: 'graph index'
    implies: [Graph]
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		rs, err := LoadRules(path)
		if err != nil {
			t.Fatalf("LoadRules() error = %v", err)
		}
		if got := rs.Classify(work.Work{Title: "A Graph Index"}); !reflect.DeepEqual(got, []string{"Graph", "Graph Index"}) {
			t.Errorf("Classify() = %v", got)
		}
		if got := rs.Category("Graph"); got != "Data type" {
			t.Errorf("Category(Graph) = %q", got)
		}
	})

	t.Run("bad regex", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yml")
		if err := os.WriteFile(path, []byte("tag_rules:\n  - name: X\n    pattern: '(['\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRules(path); !errors.Is(err, ErrInvalidRules) {
			t.Errorf("LoadRules() error = %v, want ErrInvalidRules", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yml")
		if err := os.WriteFile(path, []byte("tag_rules: [\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRules(path); !errors.Is(err, ErrInvalidRules) {
			t.Errorf("LoadRules() error = %v, want ErrInvalidRules", err)
		}
	})
}
