// Package normalize turns free-form street addresses into comparison and cache keys.
package normalize

import (
	"strings"

	"listing-enricher/internal/models"
)

// DefaultBorough is used in cache keys when an address carries no borough.
const DefaultBorough = "BROOKLYN"

// KeySeparator joins the street and borough parts of a cache key.
const KeySeparator = ", "

// abbreviations maps long-form street types and directions to their short form.
// Replacement is applied per whitespace-separated token.
var abbreviations = map[string]string{
	"STREET":    "ST",
	"AVENUE":    "AVE",
	"ROAD":      "RD",
	"BOULEVARD": "BLVD",
	"DRIVE":     "DR",
	"LANE":      "LN",
	"PLACE":     "PL",
	"EAST":      "E",
	"WEST":      "W",
	"NORTH":     "N",
	"SOUTH":     "S",
}

// Street returns the comparison form of a street line: ASCII upper-cased,
// trimmed, abbreviated and with internal whitespace collapsed to single spaces.
// Street(Street(s)) == Street(s) for every s.
func Street(street string) string {
	tokens := strings.Fields(upperASCII(street))
	for i, tok := range tokens {
		if short, ok := abbreviations[tok]; ok {
			tokens[i] = short
		}
	}
	return strings.Join(tokens, " ")
}

// ComparisonKey is the string the similarity scorer compares.
func ComparisonKey(addr models.Address) string {
	return Street(addr.Street)
}

// CacheKey identifies an address in the match cache: the normalized street
// joined with the upper-cased borough, falling back to DefaultBorough.
func CacheKey(addr models.Address) string {
	return Street(addr.Street) + KeySeparator + Borough(addr.Borough)
}

// Borough upper-cases and trims a borough name, substituting DefaultBorough
// for an empty one.
func Borough(borough string) string {
	b := strings.TrimSpace(upperASCII(borough))
	if b == "" {
		return DefaultBorough
	}
	return b
}

// upperASCII folds a-z only; other runes pass through unchanged.
func upperASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}
