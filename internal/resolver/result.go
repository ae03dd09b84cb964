package resolver

import (
	"fmt"

	"github.com/zjrosen/archnodes/internal/fuzzy"
	"github.com/zjrosen/archnodes/internal/provider"
)

// MatchKind tells how a result was obtained.
type MatchKind string

const (
	MatchNone             MatchKind = "none"
	MatchExactDiscovery   MatchKind = "exact-discovery"
	MatchRegistryVerified MatchKind = "registry-verified"
	MatchFuzzy            MatchKind = "fuzzy"
)

// Descriptor is one component to resolve.
type Descriptor struct {
	ID           string            `json:"id" yaml:"id"`
	DisplayName  string            `json:"display_name,omitempty" yaml:"display_name"`
	Provider     provider.Provider `json:"provider" yaml:"provider"`
	CategoryHint string            `json:"category,omitempty" yaml:"category"`
}

// Suggestion is an alternative candidate offered with a result.
type Suggestion struct {
	ModulePath string  `json:"module_path"`
	ClassName  string  `json:"class_name"`
	Category   string  `json:"category"`
	Score      float64 `json:"score"`
}

// Result is the outcome of resolving a Descriptor. A miss is a Result with
// MatchedVia == MatchNone, never an error.
type Result struct {
	Descriptor  Descriptor   `json:"descriptor"`
	ModulePath  string       `json:"module_path,omitempty"`
	ClassName   string       `json:"class_name,omitempty"`
	Category    string       `json:"category,omitempty"`
	MatchedVia  MatchKind    `json:"matched_via"`
	Confidence  float64      `json:"confidence"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Resolved reports whether the result names a class.
func (r Result) Resolved() bool {
	return r.MatchedVia != MatchNone && r.MatchedVia != "" && r.ClassName != ""
}

// ImportStatement returns the python import that makes the class available,
// or "" when nothing was resolved.
func (r Result) ImportStatement() string {
	if !r.Resolved() {
		return ""
	}
	return fmt.Sprintf("from %s import %s", r.ModulePath, r.ClassName)
}

func suggestionsFrom(matches []fuzzy.Match) []Suggestion {
	if len(matches) == 0 {
		return nil
	}
	out := make([]Suggestion, 0, len(matches))
	for _, m := range matches {
		out = append(out, Suggestion{
			ModulePath: m.Class.Module,
			ClassName:  m.Class.Name,
			Category:   m.Class.Category,
			Score:      m.Score,
		})
	}
	return out
}
