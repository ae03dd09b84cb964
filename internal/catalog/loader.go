package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/naming"
	"github.com/zjrosen/archnodes/internal/provider"
)

// File is the root structure of a <provider>.yaml catalog.
type File struct {
	Provider string            `yaml:"provider"` // must match the file's provider
	Modules  map[string]string `yaml:"modules"`  // category -> module path
	Nodes    []NodeDef         `yaml:"nodes"`
}

// NodeDef defines a single node in YAML.
type NodeDef struct {
	ID          string   `yaml:"id"`          // e.g. "ec2"
	Category    string   `yaml:"category"`    // key of modules
	Class       string   `yaml:"class"`       // icon class name
	Description string   `yaml:"description"` // optional
	Keywords    []string `yaml:"keywords"`    // optional
	Aliases     []string `yaml:"aliases"`     // optional alternative ids
}

// Loader reads provider catalogs from a filesystem laid out as <provider>.yaml.
type Loader struct {
	fsys fs.FS
}

// NewLoader creates a loader over fsys.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys}
}

// Load reads, parses and validates the catalog of p.
// It performs no discovery and has no side effects beyond reading the file.
func (l *Loader) Load(p provider.Provider) (*Catalog, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("load catalog: %w: %q", provider.ErrUnknownProvider, p)
	}

	name, data, err := l.read(p)
	if err != nil {
		return nil, err
	}

	c, err := Parse(p, name, data)
	if err != nil {
		log.ErrorErr(log.CatCatalog, "Catalog rejected", err, "provider", p, "source", name)
		return nil, err
	}

	log.Info(log.CatCatalog, "Catalog loaded", "provider", p, "source", name,
		"categories", len(c.modules), "entries", len(c.entries))
	return c, nil
}

func (l *Loader) read(p provider.Provider) (string, []byte, error) {
	candidates := []string{string(p) + ".yaml", string(p) + ".yml"}
	for _, name := range candidates {
		data, err := fs.ReadFile(l.fsys, name)
		if err == nil {
			return name, data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return name, nil, fmt.Errorf("read catalog %s: %w", name, err)
		}
	}
	return candidates[0], nil, fmt.Errorf("read catalog %s: %w", candidates[0], fs.ErrNotExist)
}

// Parse decodes and validates catalog data. Validation is exhaustive: every
// problem is collected into a single *MalformedError.
func Parse(p provider.Provider, source string, data []byte) (*Catalog, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &MalformedError{
			Provider: p,
			Source:   source,
			Problems: []Problem{{Index: -1, Message: fmt.Sprintf("parse: %v", err)}},
		}
	}

	problems := Validate(p, file)
	if len(problems) > 0 {
		return nil, &MalformedError{Provider: p, Source: source, Problems: problems}
	}

	return newCatalog(p, source, cleanModules(file.Modules), toEntries(file.Nodes)), nil
}

// Validate checks a decoded catalog file and returns every problem found.
func Validate(p provider.Provider, file File) []Problem {
	var problems []Problem

	if file.Provider == "" {
		problems = append(problems, Problem{Index: -1, Field: "provider", Message: "is required"})
	} else if parsed, err := provider.Parse(file.Provider); err != nil || parsed != p {
		problems = append(problems, Problem{
			Index:   -1,
			Field:   "provider",
			Message: fmt.Sprintf("declares %q but the catalog is loaded for %q", file.Provider, p),
		})
	}

	if len(file.Modules) == 0 {
		problems = append(problems, Problem{Index: -1, Field: "modules", Message: "at least one category is required"})
	}

	declared := make(map[string]bool, len(file.Modules))
	for _, category := range sortedKeys(file.Modules) {
		if strings.TrimSpace(file.Modules[category]) == "" {
			problems = append(problems, Problem{
				Index:   -1,
				Field:   "modules." + category,
				Message: "module path is required",
			})
		}
		declared[naming.Normalize(category)] = true
	}

	if len(file.Nodes) == 0 {
		problems = append(problems, Problem{Index: -1, Field: "nodes", Message: "at least one node is required"})
	}

	seen := make(map[string]int)
	for i, node := range file.Nodes {
		if strings.TrimSpace(node.ID) == "" {
			problems = append(problems, Problem{Index: i, Field: "id", Message: "is required"})
		}
		if strings.TrimSpace(node.Class) == "" {
			problems = append(problems, Problem{Index: i, NodeID: node.ID, Field: "class", Message: "is required"})
		}
		switch {
		case strings.TrimSpace(node.Category) == "":
			problems = append(problems, Problem{Index: i, NodeID: node.ID, Field: "category", Message: "is required"})
		case !declared[naming.Normalize(node.Category)]:
			problems = append(problems, Problem{
				Index:   i,
				NodeID:  node.ID,
				Field:   "category",
				Message: fmt.Sprintf("category %q is not declared in modules", node.Category),
			})
		}

		ids := append([]string{node.ID}, node.Aliases...)
		for _, id := range ids {
			key := naming.Normalize(id)
			if key == "" {
				continue
			}
			if first, dup := seen[key]; dup && first != i {
				problems = append(problems, Problem{
					Index:   i,
					NodeID:  node.ID,
					Field:   "id",
					Message: fmt.Sprintf("%q collides with node %d", id, first),
				})
				continue
			}
			seen[key] = i
		}
	}

	return problems
}

func cleanModules(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func toEntries(nodes []NodeDef) []Entry {
	entries := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, Entry{
			NodeID:      strings.TrimSpace(n.ID),
			Category:    strings.TrimSpace(n.Category),
			ClassName:   strings.TrimSpace(n.Class),
			Description: strings.TrimSpace(n.Description),
			Keywords:    n.Keywords,
			Aliases:     n.Aliases,
		})
	}
	return entries
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
