// Package overrides loads curator patches and applies them on top of
// classifier output.
package overrides

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/matsen/citewatch/internal/work"
)

// ErrParse indicates a malformed override file.
var ErrParse = errors.New("malformed override file")

// Keys of the flat layout: add_tags/remove_tags map ids to tags, hide lists ids.
const (
	keyAddTags    = "add_tags"
	keyRemoveTags = "remove_tags"
	keyHide       = "hide"
)

// Entry is the curated change for one work.
type Entry struct {
	AddTags    []string `yaml:"add_tags"`
	RemoveTags []string `yaml:"remove_tags"`
	Hidden     bool     `yaml:"hidden"`
}

// Patch maps canonical work identifiers to their entries.
type Patch map[string]Entry

// Summary reports what Apply changed.
type Summary struct {
	Hidden    int      // Works dropped from the collection
	Modified  int      // Kept works whose tags were patched
	Unmatched []string // Patched identifiers absent from the collection, sorted
}

// Load reads an override file. A missing or empty file yields an empty patch.
//
// Two layouts are accepted and may be mixed: per-work entries keyed by
// identifier, and the flat add_tags/remove_tags/hide sections.
func Load(path string) (Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Patch{}, nil
		}
		return nil, fmt.Errorf("reading overrides: %w", err)
	}
	return Parse(data)
}

// Parse decodes override YAML.
func Parse(data []byte) (Patch, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	p := Patch{}
	for key, node := range doc {
		switch key {
		case keyAddTags, keyRemoveTags:
			var m map[string][]string
			if err := node.Decode(&m); err != nil {
				return nil, fmt.Errorf("%w: %s (line %d): %v", ErrParse, key, node.Line, err)
			}
			for id, tags := range m {
				if key == keyAddTags {
					p.merge(id, Entry{AddTags: tags})
				} else {
					p.merge(id, Entry{RemoveTags: tags})
				}
			}

		case keyHide:
			var ids []string
			if err := node.Decode(&ids); err != nil {
				return nil, fmt.Errorf("%w: hide (line %d): %v", ErrParse, node.Line, err)
			}
			for _, id := range ids {
				p.merge(id, Entry{Hidden: true})
			}

		default:
			var e Entry
			if node.Kind != 0 && node.Tag != "!!null" {
				if node.Kind != yaml.MappingNode {
					return nil, fmt.Errorf("%w: entry %q (line %d): expected a mapping", ErrParse, key, node.Line)
				}
				if err := checkEntryFields(key, &node); err != nil {
					return nil, err
				}
				if err := node.Decode(&e); err != nil {
					return nil, fmt.Errorf("%w: entry %q (line %d): %v", ErrParse, key, node.Line, err)
				}
			}
			p.merge(key, e)
		}
	}

	return p, nil
}

// entryFields are the keys accepted in a per-work entry.
var entryFields = map[string]bool{"add_tags": true, "remove_tags": true, "hidden": true}

// checkEntryFields rejects misspelled entry keys, which would otherwise be
// dropped and leave the work unpatched.
func checkEntryFields(id string, node *yaml.Node) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i]
		if !entryFields[k.Value] {
			return fmt.Errorf("%w: entry %q (line %d): unknown key %q (valid: add_tags, remove_tags, hidden)",
				ErrParse, id, k.Line, k.Value)
		}
	}
	return nil
}

func (p Patch) merge(id string, e Entry) {
	id = work.NormalizeID(id)
	if id == "" {
		return
	}
	cur := p[id]
	cur.AddTags = work.UniqueSorted(append(cur.AddTags, e.AddTags...))
	cur.RemoveTags = work.UniqueSorted(append(cur.RemoveTags, e.RemoveTags...))
	cur.Hidden = cur.Hidden || e.Hidden
	p[id] = cur
}

// IsHidden reports whether the patch hides the work with identifier id.
func (p Patch) IsHidden(id string) bool {
	return p[work.NormalizeID(id)].Hidden
}

// Apply returns the works that survive the patch with patched tags:
// (tags ∪ add_tags) − remove_tags, so a tag both added and removed is
// dropped. Hidden works are omitted. The input slice is not modified, and
// applying the same patch again changes nothing.
func Apply(works []work.Work, p Patch) ([]work.Work, Summary) {
	var sum Summary
	kept := make([]work.Work, 0, len(works))
	seen := make(map[string]bool, len(p))

	for _, w := range works {
		e, ok := p[w.ID]
		if !ok {
			kept = append(kept, w)
			continue
		}
		seen[w.ID] = true

		if e.Hidden {
			sum.Hidden++
			continue
		}

		if len(e.AddTags) > 0 || len(e.RemoveTags) > 0 {
			w.Tags = patchTags(w.Tags, e)
			sum.Modified++
		}
		kept = append(kept, w)
	}

	for id := range p {
		if !seen[id] {
			sum.Unmatched = append(sum.Unmatched, id)
		}
	}
	sort.Strings(sum.Unmatched)

	return kept, sum
}

func patchTags(tags []string, e Entry) []string {
	remove := make(map[string]bool, len(e.RemoveTags))
	for _, t := range e.RemoveTags {
		remove[t] = true
	}

	merged := make([]string, 0, len(tags)+len(e.AddTags))
	for _, src := range [][]string{tags, e.AddTags} {
		for _, t := range src {
			if !remove[t] {
				merged = append(merged, t)
			}
		}
	}
	return work.UniqueSorted(merged)
}
