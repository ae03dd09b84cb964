package discovery

import (
	"sort"

	"github.com/zjrosen/archnodes/internal/naming"
)

// classSet is the immutable discovered content of one category.
type classSet struct {
	classes []Class          // sorted by Name
	byName  map[string]Class // exact class name
	byNorm  map[string]Class // naming.Normalize(name)
}

func newClassSet(category Category, found []Class) *classSet {
	classes := make([]Class, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, c := range found {
		if c.Name == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		if c.Module == "" {
			c.Module = category.Module
		}
		if c.Category == "" {
			c.Category = category.Name
		}
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].Name < classes[j].Name
	})

	set := &classSet{
		classes: classes,
		byName:  make(map[string]Class, len(classes)),
		byNorm:  make(map[string]Class, len(classes)),
	}
	for _, c := range classes {
		set.byName[c.Name] = c
		key := naming.Normalize(c.Name)
		existing, taken := set.byNorm[key]
		// On a normalization collision, a real class beats an alias binding;
		// otherwise the lexically first name (iteration order) wins.
		if !taken || (existing.AliasOf != "" && c.AliasOf == "") {
			set.byNorm[key] = c
		}
	}
	return set
}

// find performs an exact lookup, falling back to the normalized identity
// (case-folded, separators stripped). It never scores similarity.
func (s *classSet) find(name string) (Class, bool) {
	if c, ok := s.byName[name]; ok {
		return c, true
	}
	key := naming.Normalize(name)
	if key == "" {
		return Class{}, false
	}
	c, ok := s.byNorm[key]
	return c, ok
}

func (s *classSet) list() []Class {
	out := make([]Class, len(s.classes))
	copy(out, s.classes)
	return out
}
