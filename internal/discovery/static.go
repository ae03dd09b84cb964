package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/zjrosen/archnodes/internal/provider"
)

// StaticIntrospector serves a fixed, in-memory library. It counts calls so
// callers can verify how often introspection happened.
type StaticIntrospector struct {
	mu         sync.Mutex
	categories map[provider.Provider]map[string]*staticCategory
	failures   map[provider.Provider]error
	calls      map[string]int
}

type staticCategory struct {
	module  string
	classes []Class
}

// NewStatic creates an empty StaticIntrospector.
func NewStatic() *StaticIntrospector {
	return &StaticIntrospector{
		categories: make(map[provider.Provider]map[string]*staticCategory),
		failures:   make(map[provider.Provider]error),
		calls:      make(map[string]int),
	}
}

// Add registers classes under a category module, creating the category if needed.
func (s *StaticIntrospector) Add(p provider.Provider, category, module string, classes ...string) *StaticIntrospector {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.category(p, category, module)
	for _, name := range classes {
		c.classes = append(c.classes, Class{Name: name, Module: module, Category: category})
	}
	return s
}

// AddAlias registers name as an alias binding for target in an existing category.
func (s *StaticIntrospector) AddAlias(p provider.Provider, category, name, target string) *StaticIntrospector {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.category(p, category, "")
	c.classes = append(c.classes, Class{Name: name, Module: c.module, Category: category, AliasOf: target})
	return s
}

// Remove drops a class, simulating a library release that no longer ships it.
func (s *StaticIntrospector) Remove(p provider.Provider, category, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[p][category]
	if !ok {
		return
	}
	kept := c.classes[:0]
	for _, class := range c.classes {
		if class.Name != name {
			kept = append(kept, class)
		}
	}
	c.classes = kept
}

// Fail makes every introspection of p return err. A nil err clears the failure.
func (s *StaticIntrospector) Fail(p provider.Provider, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, p)
		return
	}
	s.failures[p] = err
}

// Calls reports how many times Classes ran for (p, category). An empty
// category reports Categories calls.
func (s *StaticIntrospector) Calls(p provider.Provider, category string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callKey(p, category)]
}

func (s *StaticIntrospector) Categories(_ context.Context, p provider.Provider) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[callKey(p, "")]++
	if err := s.failures[p]; err != nil {
		return nil, err
	}
	out := make([]Category, 0, len(s.categories[p]))
	for name, c := range s.categories[p] {
		out = append(out, Category{Name: name, Module: c.module})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *StaticIntrospector) Classes(_ context.Context, p provider.Provider, c Category) ([]Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[callKey(p, c.Name)]++
	if err := s.failures[p]; err != nil {
		return nil, err
	}
	sc, ok := s.categories[p][c.Name]
	if !ok {
		return nil, nil
	}
	out := make([]Class, len(sc.classes))
	copy(out, sc.classes)
	return out, nil
}

func (s *StaticIntrospector) category(p provider.Provider, name, module string) *staticCategory {
	if s.categories[p] == nil {
		s.categories[p] = make(map[string]*staticCategory)
	}
	c, ok := s.categories[p][name]
	if !ok {
		c = &staticCategory{module: module}
		s.categories[p][name] = c
	}
	if c.module == "" {
		c.module = module
	}
	return c
}

func callKey(p provider.Provider, category string) string {
	return string(p) + "/" + category
}
