// Package discovery determines which icon classes really exist in the
// installed icon library.
//
// The discovered index is the ground truth for resolution: a catalog entry
// that points at a class the library no longer ships is never trusted.
// Introspection runs at most once per (provider, category) and its result is
// shared read-only by every caller until an explicit Refresh swaps in a new
// generation.
package discovery

import (
	"context"

	"github.com/zjrosen/archnodes/internal/provider"
)

// Category is a module of the icon library grouping related node classes.
type Category struct {
	Name   string `json:"name" yaml:"name"`     // e.g. "compute"
	Module string `json:"module" yaml:"module"` // e.g. "diagrams.aws.compute"
}

// Class is a renderable node class found in the library.
type Class struct {
	Name     string `json:"name" yaml:"name"`
	Module   string `json:"module" yaml:"module"`
	Category string `json:"category" yaml:"category"`
	AliasOf  string `json:"alias_of,omitempty" yaml:"alias_of,omitempty"` // set when Name is an alias binding
}

// Introspector reads the installed library. Implementations must be safe for
// concurrent use; the Engine guarantees each (provider, category) is asked
// for its classes at most once per generation.
type Introspector interface {
	// Categories lists the category modules present for provider p.
	Categories(ctx context.Context, p provider.Provider) ([]Category, error)

	// Classes lists the classes exported by category c of provider p.
	Classes(ctx context.Context, p provider.Provider, c Category) ([]Class, error)
}

// Reloader is implemented by introspectors that read a source which can
// change on disk, such as a manifest file or a snapshot database. Refresh
// calls Reload before building the next generation.
type Reloader interface {
	Reload(ctx context.Context) error
}
