package fuzzy

import (
	"errors"
	"fmt"
	"math"
)

// Default scoring parameters.
const (
	DefaultThreshold         = 0.6
	DefaultIdentifierWeight  = 0.3
	DefaultDescriptionWeight = 0.7
	DefaultTopK              = 5

	// TokenCutoff is the minimum similarity for two words to count as the
	// same word in the description stage.
	TokenCutoff = 0.75
)

// ErrInvalidOptions is returned by Options.Validate.
var ErrInvalidOptions = errors.New("invalid fuzzy options")

// Options holds the fixed parameters of the two-stage scorer.
type Options struct {
	// Threshold is the minimum score (inclusive) for a match to be accepted.
	Threshold float64 `mapstructure:"threshold"`

	// IdentifierWeight and DescriptionWeight blend the two stages. They must sum to 1.
	IdentifierWeight  float64 `mapstructure:"identifier_weight"`
	DescriptionWeight float64 `mapstructure:"description_weight"`

	// TopK bounds the ranked candidates returned as suggestions.
	TopK int `mapstructure:"top_k"`
}

// DefaultOptions returns the default scoring parameters.
func DefaultOptions() Options {
	return Options{
		Threshold:         DefaultThreshold,
		IdentifierWeight:  DefaultIdentifierWeight,
		DescriptionWeight: DefaultDescriptionWeight,
		TopK:              DefaultTopK,
	}
}

// Validate checks ranges and that the weights sum to 1.
func (o Options) Validate() error {
	if o.Threshold <= 0 || o.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in (0, 1], got %v", ErrInvalidOptions, o.Threshold)
	}
	if o.IdentifierWeight < 0 || o.DescriptionWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidOptions)
	}
	if math.Abs(o.IdentifierWeight+o.DescriptionWeight-1) > 1e-9 {
		return fmt.Errorf("%w: identifier_weight + description_weight must equal 1, got %v",
			ErrInvalidOptions, o.IdentifierWeight+o.DescriptionWeight)
	}
	if o.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1, got %d", ErrInvalidOptions, o.TopK)
	}
	return nil
}
