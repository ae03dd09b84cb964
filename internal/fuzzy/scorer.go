package fuzzy

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/naming"
)

// boilerplate words carry no identity: "Amazon Simple Queue Service" and
// "sqs" should compare on what remains.
var boilerplate = map[string]bool{
	"aws": true, "amazon": true,
	"azure": true, "microsoft": true,
	"google": true, "gcp": true,
	"cloud": true, "service": true, "services": true,
	"managed": true, "the": true,
}

// stopwords are dropped from descriptions before keyword overlap.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "any": true, "as": true, "at": true, "by": true,
	"for": true, "in": true, "of": true, "on": true, "or": true, "the": true, "to": true, "with": true,
}

// Query is the input of one fuzzy resolution.
type Query struct {
	Name         string   // requested identifier, e.g. "severless_queue"
	CategoryHint string   // optional
	Hints        []string // free text such as the display name
}

// Candidate is a discovered class together with whatever the registry says about it.
type Candidate struct {
	Class       discovery.Class
	Identifiers []string // registry ids and aliases that point at Class
	Text        []string // registry descriptions and keywords
}

// Match is a scored candidate.
type Match struct {
	Class       discovery.Class `json:"class"`
	Score       float64         `json:"score"`
	Identifier  float64         `json:"identifier_score"`
	Description float64         `json:"description_score"`
	Distance    int             `json:"distance"` // edit distance of the best identifier
}

// Scorer computes the identifier and description stages and blends them
// with fixed weights. It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	opts Options
	dmp  *diffmatchpatch.DiffMatchPatch
}

// NewScorer creates a Scorer.
func NewScorer(opts Options) *Scorer {
	dmp := diffmatchpatch.New()
	// No deadline: the diff, and therefore the distance, must not depend on timing.
	dmp.DiffTimeout = 0
	return &Scorer{opts: opts, dmp: dmp}
}

// Options returns the scorer's parameters.
func (s *Scorer) Options() Options {
	return s.opts
}

// Accepts reports whether score meets the threshold. The boundary is inclusive.
func (s *Scorer) Accepts(score float64) bool {
	return score >= s.opts.Threshold
}

// Distance is the character edit distance between a and b.
func (s *Scorer) Distance(a, b string) int {
	if a == b {
		return 0
	}
	return s.dmp.DiffLevenshtein(s.dmp.DiffMain(a, b, false))
}

// similarity is 1 - distance/longest, clamped to [0, 1].
func (s *Scorer) similarity(a, b string) (float64, int) {
	if a == "" || b == "" {
		return 0, max(len([]rune(a)), len([]rune(b)))
	}
	d := s.Distance(a, b)
	longest := max(len([]rune(a)), len([]rune(b)))
	// The diff-derived distance can exceed the longer length when the
	// shortest script trades substitutions for insert/delete pairs.
	return clamp(1 - float64(d)/float64(longest)), d
}

// IdentifierSimilarity compares name against each identifier after
// normalization and boilerplate stripping, returning the best similarity and
// its edit distance.
func (s *Scorer) IdentifierSimilarity(name string, identifiers ...string) (float64, int) {
	return s.identifier(coreIdentifier(name), identifiers)
}

func (s *Scorer) identifier(query string, identifiers []string) (float64, int) {
	best, dist := 0.0, -1
	for _, id := range identifiers {
		sim, d := s.similarity(query, coreIdentifier(id))
		if dist < 0 || sim > best || (sim == best && d < dist) {
			best, dist = sim, d
		}
	}
	if dist < 0 {
		dist = len([]rune(query))
	}
	return best, dist
}

// DescriptionOverlap is the mean, over the query's words, of the best word
// similarity found in corpus. Word similarities below TokenCutoff count as 0.
func (s *Scorer) DescriptionOverlap(query []string, corpus []string) float64 {
	return s.overlap(keywords(query...), keywords(corpus...))
}

func (s *Scorer) overlap(query, corpus []string) float64 {
	if len(query) == 0 || len(corpus) == 0 {
		return 0
	}
	var total float64
	for _, q := range query {
		best := 0.0
		for _, c := range corpus {
			if sim, _ := s.similarity(q, c); sim > best {
				best = sim
				if best == 1 {
					break
				}
			}
		}
		if best >= TokenCutoff {
			total += best
		}
	}
	return total / float64(len(query))
}

// prepared caches the query side of scoring across candidates.
type prepared struct {
	query    Query
	core     string
	keywords []string
}

func (s *Scorer) prepare(q Query) prepared {
	return prepared{
		query:    q,
		core:     coreIdentifier(q.Name),
		keywords: keywords(append([]string{q.Name}, q.Hints...)...),
	}
}

// Score runs both stages for one candidate. The blended score is never lower
// than the identifier stage alone, so a close identifier still wins when the
// registry has no description for the class.
func (s *Scorer) Score(q Query, c Candidate) Match {
	return s.score(s.prepare(q), c)
}

func (s *Scorer) score(p prepared, c Candidate) Match {
	ids := append([]string{c.Class.Name}, c.Identifiers...)
	id, dist := s.identifier(p.core, ids)

	corpus := append(append([]string{c.Class.Name}, c.Identifiers...), c.Text...)
	desc := s.overlap(p.keywords, keywords(corpus...))

	blended := s.opts.IdentifierWeight*id + s.opts.DescriptionWeight*desc
	return Match{
		Class:       c.Class,
		Score:       clamp(max(id, blended)),
		Identifier:  id,
		Description: desc,
		Distance:    dist,
	}
}

// coreIdentifier is the normalized identifier without boilerplate words.
// An identifier made only of boilerplate keeps its full normalized form.
func coreIdentifier(s string) string {
	var b strings.Builder
	for _, tok := range naming.Tokens(s) {
		if !boilerplate[tok] {
			b.WriteString(tok)
		}
	}
	if b.Len() == 0 {
		return naming.Normalize(s)
	}
	return b.String()
}

// keywords returns the distinct meaningful words of texts.
func keywords(texts ...string) []string {
	var out []string
	for _, tok := range naming.UniqueTokens(texts...) {
		if boilerplate[tok] || stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
