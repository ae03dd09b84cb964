// Package provider defines the closed set of cloud providers whose node
// catalogs can be resolved.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned when a provider name is not one of the supported vendors.
var ErrUnknownProvider = errors.New("unknown provider")

// Provider identifies a cloud vendor. The value doubles as the provider's
// namespace in the icon library (e.g. diagrams.aws).
type Provider string

const (
	AWS   Provider = "aws"
	Azure Provider = "azure"
	GCP   Provider = "gcp"
)

// All returns every supported provider in a stable order.
func All() []Provider {
	return []Provider{AWS, Azure, GCP}
}

// Parse converts user or upstream input into a Provider.
// Vendor names are accepted alongside the short tokens.
func Parse(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aws", "amazon":
		return AWS, nil
	case "azure", "microsoft":
		return Azure, nil
	case "gcp", "google":
		return GCP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case AWS, Azure, GCP:
		return true
	default:
		return false
	}
}

// String returns the provider token.
func (p Provider) String() string {
	return string(p)
}

// DisplayName returns a human-readable vendor label.
func (p Provider) DisplayName() string {
	switch p {
	case AWS:
		return "AWS"
	case Azure:
		return "Azure"
	case GCP:
		return "GCP"
	default:
		return "unknown"
	}
}
