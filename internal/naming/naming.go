// Package naming normalizes component identifiers so that "ec_2", "EC-2" and
// "Ec2" compare equal, and splits identifiers and free text into words.
package naming

import (
	"strings"
	"unicode"
)

// Normalize case-folds s and drops every rune that is not a letter or digit.
// It is the identity used for exact (non-fuzzy) lookups.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Tokens splits an identifier or sentence into lower-case words.
// Words break on separators, on lower-to-upper transitions ("AppSync"),
// at the end of an acronym ("APIGateway" -> api, gateway) and where a digit
// is followed by a capitalized word ("S3Glacier" -> s3, glacier).
func Tokens(s string) []string {
	runes := []rune(s)
	var (
		tokens []string
		cur    []rune
	)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			switch {
			case unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(prev) && nextLower:
				flush()
			case unicode.IsDigit(prev) && nextLower:
				flush()
			}
		}
		cur = append(cur, unicode.ToLower(r))
	}
	flush()

	return tokens
}

// UniqueTokens returns the tokens of every input, deduplicated, in first-seen order.
func UniqueTokens(inputs ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, in := range inputs {
		for _, tok := range Tokens(in) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}
