package discovery

import (
	"errors"
	"fmt"

	"github.com/zjrosen/archnodes/internal/provider"
)

// ErrLibraryUnavailable means the icon library cannot be introspected for a provider.
var ErrLibraryUnavailable = errors.New("icon library unavailable")

// UnavailableError records why introspection failed. The failure is sticky:
// the Engine returns the same error for every later call until Refresh.
type UnavailableError struct {
	Provider provider.Provider
	Category string // empty when the provider's category listing failed
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("%s: %s/%s: %v", ErrLibraryUnavailable, e.Provider, e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrLibraryUnavailable, e.Provider, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *UnavailableError) Unwrap() []error {
	return []error{ErrLibraryUnavailable, e.Err}
}
