// Package fuzzy resolves component names that match no class exactly.
//
// Scoring has two independent stages. The identifier stage compares the
// requested name with the class name and the registry ids that point at it,
// as 1 - editDistance/longerLength over normalized, boilerplate-free
// identifiers. The description stage measures how many of the query's words
// appear, allowing small typos, among the class's words and the registry's
// descriptions and keywords. The final score is
//
//	max(identifier, wId*identifier + wDesc*description)
//
// and a match is accepted when it is at least the threshold.
package fuzzy

import (
	"context"

	"github.com/zjrosen/archnodes/internal/catalog"
	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/provider"
)

// Index is the part of the discovery engine the resolver reads.
type Index interface {
	ClassesFor(ctx context.Context, p provider.Provider, category string) ([]discovery.Class, error)
	AllClasses(ctx context.Context, p provider.Provider) ([]discovery.Class, error)
}

// Outcome is the result of a fuzzy resolution.
type Outcome struct {
	// Accepted is the best candidate when its score meets the threshold.
	Accepted *Match

	// Candidates are the top-K ranked matches, including Accepted.
	Candidates []Match

	// Widened is set when a category hint was given but the search had to
	// consider every category.
	Widened bool
}

// Resolver ranks discovered classes against a query.
type Resolver struct {
	index  Index
	scorer *Scorer
}

// NewResolver creates a Resolver reading classes from index.
func NewResolver(index Index, opts Options) *Resolver {
	return &Resolver{index: index, scorer: NewScorer(opts)}
}

// Scorer returns the resolver's scorer.
func (r *Resolver) Scorer() *Scorer {
	return r.scorer
}

// ResolveFuzzy scores every discovered class of provider p. With a category
// hint, the hinted category is tried first; when its best match is below the
// threshold the search widens to all categories, with hinted matches still
// winning ties. cat may be nil, in which case only class names are scored.
//
// Only discovered classes are ever candidates: registry entries contribute
// text and identifiers but never a class the library does not have.
func (r *Resolver) ResolveFuzzy(ctx context.Context, p provider.Provider, q Query, cat *catalog.Catalog) (Outcome, error) {
	opts := r.scorer.Options()
	pq := r.scorer.prepare(q)

	if q.CategoryHint != "" {
		classes, err := r.index.ClassesFor(ctx, p, q.CategoryHint)
		if err != nil {
			return Outcome{}, err
		}
		if len(classes) > 0 {
			ranked := Rank(r.scoreAll(pq, classes, cat), q.CategoryHint, opts.TopK)
			if len(ranked) > 0 && r.scorer.Accepts(ranked[0].Score) {
				return r.outcome(q, ranked, false), nil
			}
		}
	}

	classes, err := r.index.AllClasses(ctx, p)
	if err != nil {
		return Outcome{}, err
	}
	ranked := Rank(r.scoreAll(pq, classes, cat), q.CategoryHint, opts.TopK)
	return r.outcome(q, ranked, q.CategoryHint != ""), nil
}

func (r *Resolver) outcome(q Query, ranked []Match, widened bool) Outcome {
	out := Outcome{Candidates: ranked, Widened: widened}
	if len(ranked) > 0 && r.scorer.Accepts(ranked[0].Score) {
		best := ranked[0]
		out.Accepted = &best
		log.Debug(log.CatFuzzy, "Accepted fuzzy match",
			"query", q.Name, "class", best.Class.Name, "module", best.Class.Module,
			"score", best.Score, "widened", widened)
		return out
	}
	if len(ranked) > 0 {
		log.Debug(log.CatFuzzy, "Rejected fuzzy match",
			"query", q.Name, "best", ranked[0].Class.Name, "score", ranked[0].Score,
			"threshold", r.scorer.Options().Threshold)
	}
	return out
}

func (r *Resolver) scoreAll(pq prepared, classes []discovery.Class, cat *catalog.Catalog) []Match {
	matches := make([]Match, 0, len(classes))
	for _, c := range classes {
		matches = append(matches, r.scorer.score(pq, candidateFor(c, cat)))
	}
	return matches
}

// candidateFor attaches the registry's ids, aliases, descriptions and
// keywords for entries naming class c.
func candidateFor(c discovery.Class, cat *catalog.Catalog) Candidate {
	cand := Candidate{Class: c}
	if cat == nil {
		return cand
	}
	for _, e := range cat.EntriesForClass(c.Category, c.Name) {
		cand.Identifiers = append(cand.Identifiers, e.NodeID)
		cand.Identifiers = append(cand.Identifiers, e.Aliases...)
		if e.Description != "" {
			cand.Text = append(cand.Text, e.Description)
		}
		cand.Text = append(cand.Text, e.Keywords...)
	}
	return cand
}
