// Package classify assigns heuristic topic tags to citing works and
// normalizes venue names for grouping.
package classify

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultCategory is assigned to rules that do not name a category.
const DefaultCategory = "Other"

// ErrInvalidRules indicates a rule file that cannot be parsed or compiled.
var ErrInvalidRules = errors.New("invalid tag rules")

// Rule maps a case-insensitive pattern to a tag.
type Rule struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Category string   `yaml:"category,omitempty"`
	Implies  []string `yaml:"implies,omitempty"` // More general tags added alongside Name
}

// RuleSet is an ordered, compiled collection of rules. It is immutable
// after construction and safe for concurrent use.
type RuleSet struct {
	rules      []Rule
	patterns   []*regexp.Regexp
	categories map[string]string
}

// ruleFile is the on-disk layout of a tag rule file.
type ruleFile struct {
	TagRules []Rule `yaml:"tag_rules"`
}

var defaultRules = []Rule{
	{Name: "String Key", Category: "Data type", Pattern: `\b(string|text|varchar|character|lexicograph|dictionary)\b`},
	{Name: "Updatable", Category: "Workload", Pattern: `\b(update|updatable|mutable|insert|delete|dynamic|online|incremental|lsm)\b`},
	{Name: "Disk", Category: "Storage", Pattern: `\b(disk|ssd|storage|i/o|external memory|out[- ]of[- ]core)\b`},
	{Name: "Main-memory", Category: "Storage", Pattern: `\b(in[- ]?memory|ram)\b`},
	{Name: "Multidimensional", Category: "Data type", Pattern: `\b(multidimensional|multi[- ]?dimensional|spatial|kd[- ]?tree|r[- ]?tree|quadtree|octree)\b`},
	{Name: "Bloom Filter", Category: "Structure", Pattern: `\b(bloom filter|learned bloom|\bLBF\b)\b`},
	{Name: "Sketch", Category: "Structure", Pattern: `\b(count[- ]?min|cms|sketch|hyperloglog|countmin)\b`},
	{Name: "Hash Table", Category: "Structure", Pattern: `\b(hash table|cuckoo|robin hood|tabulation|perfect hash)\b`},
	{Name: "B-tree", Category: "Structure", Pattern: `\b(b[- ]?tree|b\+[- ]?tree|btree)\b`},
	{Name: "LSM-tree", Category: "Structure", Pattern: `\b(lsm[- ]?tree|log[- ]?structured merge)\b`},
	{Name: "GPU", Category: "Hardware/System", Pattern: `\b(gpu|cuda)\b`},
	{Name: "Distributed", Category: "Hardware/System", Pattern: `\b(distributed|cluster|spark|hadoop|federated)\b`},
	{Name: "Theoretical", Category: "Research type", Pattern: `\b(theorem|proof|approximation ratio|lower bound|upper bound|asymptotic|complexity)\b`},
	{Name: "Security/Adversarial", Category: "Research type", Pattern: `\b(poison|adversarial|attack|robust|privacy|secure)\b`},
	{Name: "Compression", Category: "Research type", Pattern: `\b(compress|compression|succinct|entropy)\b`},
	{Name: "Benchmark", Category: "Research type", Pattern: `\b(benchmark|microbenchmark|sosd|workload|evaluation framework)\b`},
	{Name: "Range", Category: "Workload", Pattern: `\b(range query|interval|scan)\b`},
	{Name: "Time-series", Category: "Data type", Pattern: `\b(time[- ]?series|temporal)\b`},
	{Name: "Disk-based Learned Index", Category: "Storage", Pattern: `learned index.*(disk|page|io|secondary storage)`, Implies: []string{"Learned Index"}},
	{Name: "Learned Index", Category: "Structure", Pattern: `\blearned[- ]?index(es)?\b`},
	{Name: "PGM-index", Category: "Structure", Pattern: `\bpgm[- ]?index\b`},
	{Name: "ALEX", Category: "Structure", Pattern: `\balex\b`},
	{Name: "Learned Bloom Filter", Category: "Structure", Pattern: `learned bloom filter|lbf`, Implies: []string{"Bloom Filter"}},
	{Name: "Query optimization", Category: "Database", Pattern: `\b(query optimization|query plan|query execution|query processing)\b`},
	{Name: "Cardinality estimation", Category: "Database", Pattern: `\b(cardinality estimation|selectivity estimation|row count estimation|table statistics)\b`},
}

// DefaultRules returns a copy of the built-in rule table in priority order.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	for i, r := range defaultRules {
		r.Implies = append([]string(nil), r.Implies...)
		out[i] = r
	}
	return out
}

// Default returns the compiled built-in rule set.
func Default() *RuleSet {
	rs, err := Compile(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("classify: built-in rules: %v", err))
	}
	return rs
}

// Compile validates and compiles rules. Patterns match case-insensitively.
func Compile(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{
		rules:      make([]Rule, 0, len(rules)),
		patterns:   make([]*regexp.Regexp, 0, len(rules)),
		categories: make(map[string]string, len(rules)),
	}

	for i, r := range rules {
		if r.Name == "" || r.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %d: name and pattern are required", ErrInvalidRules, i+1)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidRules, r.Name, err)
		}
		if r.Category == "" {
			r.Category = DefaultCategory
		}
		r.Implies = append([]string(nil), r.Implies...)

		rs.rules = append(rs.rules, r)
		rs.patterns = append(rs.patterns, re)
		if _, ok := rs.categories[r.Name]; !ok {
			rs.categories[r.Name] = r.Category
		}
	}

	// Implied tags without a rule of their own inherit the implying rule's category.
	for _, r := range rs.rules {
		for _, tag := range r.Implies {
			if _, ok := rs.categories[tag]; !ok {
				rs.categories[tag] = r.Category
			}
		}
	}

	return rs, nil
}

// LoadRules reads a YAML rule file. A missing file yields the built-in rules.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading tag rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRules, path, err)
	}
	if len(f.TagRules) == 0 {
		return nil, fmt.Errorf("%w: %s: no tag_rules defined", ErrInvalidRules, path)
	}

	return Compile(f.TagRules)
}

// Rules returns a copy of the rules in priority order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Category returns the category of tag, or DefaultCategory for tags no rule produces.
func (rs *RuleSet) Category(tag string) string {
	if c, ok := rs.categories[tag]; ok {
		return c
	}
	return DefaultCategory
}

// Categories returns the tag-to-category map for every tag the rules can produce.
func (rs *RuleSet) Categories() map[string]string {
	out := make(map[string]string, len(rs.categories))
	for k, v := range rs.categories {
		out[k] = v
	}
	return out
}

// CategoryNames returns the distinct categories in sorted order.
func (rs *RuleSet) CategoryNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range rs.categories {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
