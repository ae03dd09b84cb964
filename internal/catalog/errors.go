package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zjrosen/archnodes/internal/provider"
)

// Catalog errors
var (
	ErrConfigMalformed = errors.New("catalog malformed")
	ErrNotLoaded       = errors.New("catalog not loaded")
)

// Problem is one validation failure inside a catalog file.
// Index is the position of the offending node, or -1 for file-level problems.
type Problem struct {
	Index   int
	NodeID  string
	Field   string
	Message string
}

func (p Problem) String() string {
	var b strings.Builder
	if p.Index >= 0 {
		fmt.Fprintf(&b, "node %d", p.Index)
		if p.NodeID != "" {
			fmt.Fprintf(&b, " (%s)", p.NodeID)
		}
		b.WriteString(": ")
	}
	if p.Field != "" {
		fmt.Fprintf(&b, "%s: ", p.Field)
	}
	b.WriteString(p.Message)
	return b.String()
}

// MalformedError reports every problem found in a catalog, not just the first.
type MalformedError struct {
	Provider provider.Provider
	Source   string
	Problems []Problem
}

func (e *MalformedError) Error() string {
	lines := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		lines = append(lines, p.String())
	}
	return fmt.Sprintf("%s: %s catalog %s has %d problem(s): %s",
		ErrConfigMalformed, e.Provider, e.Source, len(e.Problems), strings.Join(lines, "; "))
}

// Is makes errors.Is(err, ErrConfigMalformed) hold.
func (e *MalformedError) Is(target error) bool {
	return target == ErrConfigMalformed
}
