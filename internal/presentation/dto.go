package presentation

import (
	"errors"
	"time"

	"github.com/zjrosen/archnodes/internal/catalog"
	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/infrastructure/sqlite"
	"github.com/zjrosen/archnodes/internal/resolver"
)

// ResultDTO is one resolution as printed by the resolve and stream commands.
type ResultDTO struct {
	ID          string          `json:"id"`
	Provider    string          `json:"provider"`
	ModulePath  string          `json:"module_path,omitempty"`
	ClassName   string          `json:"class_name,omitempty"`
	Category    string          `json:"category,omitempty"`
	MatchedVia  string          `json:"matched_via"`
	Confidence  float64         `json:"confidence"`
	Import      string          `json:"import,omitempty"`
	Suggestions []SuggestionDTO `json:"suggestions"` // always present, possibly empty
	Error       string          `json:"error,omitempty"`
}

// SuggestionDTO is an alternative candidate for a resolution.
type SuggestionDTO struct {
	ModulePath string  `json:"module_path"`
	ClassName  string  `json:"class_name"`
	Category   string  `json:"category"`
	Score      float64 `json:"score"`
}

// FromResult converts a resolver result to a DTO.
func FromResult(r resolver.Result) ResultDTO {
	suggestions := make([]SuggestionDTO, len(r.Suggestions))
	for i, s := range r.Suggestions {
		suggestions[i] = SuggestionDTO{
			ModulePath: s.ModulePath,
			ClassName:  s.ClassName,
			Category:   s.Category,
			Score:      s.Score,
		}
	}
	return ResultDTO{
		ID:          r.Descriptor.ID,
		Provider:    r.Descriptor.Provider.String(),
		ModulePath:  r.ModulePath,
		ClassName:   r.ClassName,
		Category:    r.Category,
		MatchedVia:  string(r.MatchedVia),
		Confidence:  r.Confidence,
		Import:      r.ImportStatement(),
		Suggestions: suggestions,
	}
}

// FromError builds the DTO reported for a descriptor that could not be
// resolved at all, e.g. because its provider's library is unavailable.
func FromError(d resolver.Descriptor, err error) ResultDTO {
	return ResultDTO{
		ID:          d.ID,
		Provider:    d.Provider.String(),
		MatchedVia:  string(resolver.MatchNone),
		Suggestions: []SuggestionDTO{},
		Error:       err.Error(),
	}
}

// CategoryDTO lists the classes discovered in one category module.
type CategoryDTO struct {
	Provider string     `json:"provider"`
	Name     string     `json:"name"`
	Module   string     `json:"module"`
	Classes  []ClassDTO `json:"classes"`
}

// ClassDTO is a discovered class.
type ClassDTO struct {
	Name    string `json:"name"`
	AliasOf string `json:"alias_of,omitempty"`
}

// FromCategory converts a discovered category and its classes to a DTO.
func FromCategory(p string, c discovery.Category, classes []discovery.Class) CategoryDTO {
	dto := CategoryDTO{Provider: p, Name: c.Name, Module: c.Module, Classes: make([]ClassDTO, len(classes))}
	for i, class := range classes {
		dto.Classes[i] = ClassDTO{Name: class.Name, AliasOf: class.AliasOf}
	}
	return dto
}

// CatalogReportDTO is the outcome of validating one provider's catalog.
type CatalogReportDTO struct {
	Provider string       `json:"provider"`
	Source   string       `json:"source,omitempty"`
	Valid    bool         `json:"valid"`
	Entries  int          `json:"entries"`
	Problems []ProblemDTO `json:"problems,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// ProblemDTO is one validation failure.
type ProblemDTO struct {
	Index   int    `json:"index"`
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// FromCatalog reports a provider's load outcome. Malformed catalogs list
// every problem; any other error is reported as is.
func FromCatalog(p string, c *catalog.Catalog, err error) CatalogReportDTO {
	report := CatalogReportDTO{Provider: p}
	if err == nil {
		report.Valid = true
		report.Source = c.Source()
		report.Entries = c.Len()
		return report
	}

	var malformed *catalog.MalformedError
	if errors.As(err, &malformed) {
		report.Source = malformed.Source
		for _, problem := range malformed.Problems {
			report.Problems = append(report.Problems, ProblemDTO{
				Index:   problem.Index,
				NodeID:  problem.NodeID,
				Field:   problem.Field,
				Message: problem.Message,
			})
		}
		return report
	}
	report.Error = err.Error()
	return report
}

// SnapshotDTO describes a persisted class index.
type SnapshotDTO struct {
	GUID      string    `json:"guid"`
	Library   string    `json:"library"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// FromSnapshots converts stored snapshots to DTOs.
func FromSnapshots(snaps []sqlite.Snapshot) []SnapshotDTO {
	dtos := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = SnapshotDTO{GUID: s.GUID, Library: s.Library, Version: s.Version, CreatedAt: s.CreatedAt}
	}
	return dtos
}
