// Package taxonomy holds the closed vocabularies ingestion validates against.
//
// The theme hierarchy (parent theme -> child themes -> topics) is loaded from an
// embedded YAML document and may be replaced at process start through TAXONOMY_PATH.
// The remaining sets (geography types, metric groups, frequencies, sex) are fixed
// and exposed as typed string variants with a single FromName lookup each.
//
// Every lookup folds case and treats '-' and '_' as equivalent
// (see canonicalization.NormalizeLookupKey).
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/healthdash-io/healthdash/internal/canonicalization"
	"github.com/healthdash-io/healthdash/internal/config"
)

// PathEnvVar is the environment variable naming a YAML file that replaces the embedded taxonomy.
const PathEnvVar = "TAXONOMY_PATH"

var (
	// ErrEmptyTaxonomy is returned when a taxonomy document defines no parent themes.
	ErrEmptyTaxonomy = errors.New("taxonomy defines no parent themes")
	// ErrDuplicateChildTheme is returned when a child theme appears under more than one parent.
	ErrDuplicateChildTheme = errors.New("child theme listed under more than one parent theme")
	// ErrEmptyName is returned when a theme or topic entry has no name.
	ErrEmptyName = errors.New("taxonomy entry has an empty name")
)

//go:embed themes.yaml
var embeddedThemes []byte

var (
	defaultOnce     sync.Once
	defaultTaxonomy *Taxonomy
)

type (
	// Taxonomy is the parent -> child -> topic adjacency map plus the optional
	// per-topic metric allow-list. It is immutable after loading and safe for
	// concurrent use.
	Taxonomy struct {
		parents  map[string]string              // lookup key -> parent name
		children map[string]map[string]string   // parent key -> child key -> child name
		topics   map[string]map[string]string   // child key -> topic key -> topic name
		metrics  map[string]map[string]struct{} // topic key -> allowed metric names
	}

	document struct {
		ParentThemes []parentEntry       `yaml:"parent_themes"` //nolint:tagliatelle // snake_case YAML
		Metrics      map[string][]string `yaml:"metrics"`
	}

	parentEntry struct {
		Name        string       `yaml:"name"`
		ChildThemes []childEntry `yaml:"child_themes"` //nolint:tagliatelle // snake_case YAML
	}

	childEntry struct {
		Name   string   `yaml:"name"`
		Topics []string `yaml:"topics"`
	}
)

// Default returns the taxonomy parsed from the embedded themes.yaml.
// The embedded document is validated by tests, so a parse failure panics.
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		t, err := Parse(embeddedThemes)
		if err != nil {
			panic(fmt.Sprintf("embedded taxonomy is invalid: %v", err))
		}

		defaultTaxonomy = t
	})

	return defaultTaxonomy
}

// Parse builds a Taxonomy from a YAML document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}

	if len(doc.ParentThemes) == 0 {
		return nil, ErrEmptyTaxonomy
	}

	t := &Taxonomy{
		parents:  make(map[string]string, len(doc.ParentThemes)),
		children: make(map[string]map[string]string, len(doc.ParentThemes)),
		topics:   make(map[string]map[string]string),
		metrics:  make(map[string]map[string]struct{}, len(doc.Metrics)),
	}

	owner := make(map[string]string) // child key -> parent key

	for _, p := range doc.ParentThemes {
		pk := canonicalization.NormalizeLookupKey(p.Name)
		if pk == "" {
			return nil, ErrEmptyName
		}

		t.parents[pk] = p.Name
		if t.children[pk] == nil {
			t.children[pk] = make(map[string]string, len(p.ChildThemes))
		}

		for _, c := range p.ChildThemes {
			ck := canonicalization.NormalizeLookupKey(c.Name)
			if ck == "" {
				return nil, fmt.Errorf("%w: child theme under %q", ErrEmptyName, p.Name)
			}

			if prev, ok := owner[ck]; ok && prev != pk {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateChildTheme, c.Name)
			}

			owner[ck] = pk
			t.children[pk][ck] = c.Name

			if t.topics[ck] == nil {
				t.topics[ck] = make(map[string]string, len(c.Topics))
			}

			for _, topic := range c.Topics {
				tk := canonicalization.NormalizeLookupKey(topic)
				if tk == "" {
					return nil, fmt.Errorf("%w: topic under %q", ErrEmptyName, c.Name)
				}

				t.topics[ck][tk] = topic
			}
		}
	}

	for topic, names := range doc.Metrics {
		if len(names) == 0 {
			continue
		}

		allowed := make(map[string]struct{}, len(names))
		for _, n := range names {
			allowed[n] = struct{}{}
		}

		t.metrics[canonicalization.NormalizeLookupKey(topic)] = allowed
	}

	return t, nil
}

// LoadFile reads a taxonomy YAML file from disk.
//
// A file that cannot be read or parsed is an error; there is no fallback to the
// embedded taxonomy.
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}

	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("taxonomy file %s: %w", path, err)
	}

	return t, nil
}

// LoadFromEnv loads the taxonomy named by TAXONOMY_PATH, or the embedded one when unset.
func LoadFromEnv() (*Taxonomy, error) {
	path := config.GetEnvStr(PathEnvVar, "")
	if path == "" {
		return Default(), nil
	}

	t, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	slog.Info("Loaded taxonomy override", slog.String("path", path),
		slog.Int("parent_themes", len(t.parents)))

	return t, nil
}

// HasParentTheme reports whether name is a known parent theme.
func (t *Taxonomy) HasParentTheme(name string) bool {
	_, ok := t.parents[canonicalization.NormalizeLookupKey(name)]

	return ok
}

// HasChildTheme reports whether child is allowed under parent.
func (t *Taxonomy) HasChildTheme(parent, child string) bool {
	_, ok := t.children[canonicalization.NormalizeLookupKey(parent)][canonicalization.NormalizeLookupKey(child)]

	return ok
}

// HasTopic reports whether topic is allowed under child.
func (t *Taxonomy) HasTopic(child, topic string) bool {
	_, ok := t.topics[canonicalization.NormalizeLookupKey(child)][canonicalization.NormalizeLookupKey(topic)]

	return ok
}

// AllowsMetric reports whether metric is accepted for topic. Topics without an
// allow-list accept every metric.
func (t *Taxonomy) AllowsMetric(topic, metric string) bool {
	allowed, ok := t.metrics[canonicalization.NormalizeLookupKey(topic)]
	if !ok {
		return true
	}

	_, ok = allowed[metric]

	return ok
}

// ParentThemes returns the parent theme names, sorted.
func (t *Taxonomy) ParentThemes() []string {
	return sortedValues(t.parents)
}

// ChildThemes returns the child theme names allowed under parent, sorted.
// Unknown parents yield an empty slice.
func (t *Taxonomy) ChildThemes(parent string) []string {
	return sortedValues(t.children[canonicalization.NormalizeLookupKey(parent)])
}

// Topics returns the topic names allowed under child, sorted.
func (t *Taxonomy) Topics(child string) []string {
	return sortedValues(t.topics[canonicalization.NormalizeLookupKey(child)])
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}

	sort.Strings(out)

	return out
}
