// Package catalog is the registry store: per-provider, declarative catalogs
// mapping stable component ids to a category and an icon class name.
//
// A catalog is a hint layer. It never proves that a class exists in the
// installed icon library; the discovery engine does that.
package catalog

import (
	"sort"

	"github.com/zjrosen/archnodes/internal/naming"
	"github.com/zjrosen/archnodes/internal/provider"
)

// Entry is a single registered node.
type Entry struct {
	NodeID      string   // stable id, e.g. "ec2"
	Category    string   // key of the catalog's module map, e.g. "compute"
	ClassName   string   // icon class, e.g. "EC2"
	Description string   // human-readable description, used for fuzzy matching
	Keywords    []string // extra matching terms
	Aliases     []string // alternative ids that resolve to this entry
}

// Catalog is the validated, immutable catalog of one provider.
type Catalog struct {
	provider provider.Provider
	source   string
	modules  map[string]string // category -> module path
	entries  []Entry
	byID     map[string]int    // normalized id or alias -> entry index
	byClass  map[string][]int  // normalized category + "/" + normalized class -> entry indexes
	catIndex map[string]string // normalized category -> declared category
}

func newCatalog(p provider.Provider, source string, modules map[string]string, entries []Entry) *Catalog {
	c := &Catalog{
		provider: p,
		source:   source,
		modules:  modules,
		entries:  entries,
		byID:     make(map[string]int, len(entries)),
		byClass:  make(map[string][]int, len(entries)),
		catIndex: make(map[string]string, len(modules)),
	}
	for category := range modules {
		c.catIndex[naming.Normalize(category)] = category
	}
	for i, e := range entries {
		c.byID[naming.Normalize(e.NodeID)] = i
		for _, alias := range e.Aliases {
			c.byID[naming.Normalize(alias)] = i
		}
		key := classKey(e.Category, e.ClassName)
		c.byClass[key] = append(c.byClass[key], i)
	}
	return c
}

func classKey(category, className string) string {
	return naming.Normalize(category) + "/" + naming.Normalize(className)
}

// Provider returns the provider this catalog describes.
func (c *Catalog) Provider() provider.Provider {
	return c.provider
}

// Source returns the path the catalog was loaded from.
func (c *Catalog) Source() string {
	return c.source
}

// Modules returns a copy of the category -> module path map.
func (c *Catalog) Modules() map[string]string {
	out := make(map[string]string, len(c.modules))
	for k, v := range c.modules {
		out[k] = v
	}
	return out
}

// ModulePath returns the module path declared for category.
// Category names are compared after normalization.
func (c *Catalog) ModulePath(category string) (string, bool) {
	declared, ok := c.catIndex[naming.Normalize(category)]
	if !ok {
		return "", false
	}
	return c.modules[declared], true
}

// Categories returns the declared categories, sorted.
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.modules))
	for k := range c.modules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Entries returns a copy of every entry in declaration order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Lookup finds the entry registered under id or one of its aliases.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	i, ok := c.byID[naming.Normalize(id)]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// EntriesForClass returns the entries that point at className in category.
func (c *Catalog) EntriesForClass(category, className string) []Entry {
	idx := c.byClass[classKey(category, className)]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.entries[i])
	}
	return out
}
