// Package similarity scores how likely two addresses refer to the same building.
package similarity

import (
	"math"
	"strings"

	"listing-enricher/internal/models"
	"listing-enricher/internal/normalize"
)

const (
	// BoroughBoost is added when both addresses name the same borough.
	BoroughBoost = 10
	// PostalCodeBoost is added when both addresses carry the same postal code.
	PostalCodeBoost = 10
	// MaxScore caps every similarity score.
	MaxScore = 100
)

// Ratio returns the indel similarity of a and b in [0, 100]: twice the
// longest common subsequence over the combined length, rounded half to even.
// Identical strings score 100 and strings that share nothing score 0.
func Ratio(a, b string) int {
	if a == b {
		return MaxScore
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	return int(math.RoundToEven(float64(MaxScore) * float64(2*lcsLength(ra, rb)) / float64(total)))
}

// lcsLength returns the length of the longest common subsequence of a and b.
func lcsLength(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Scorer compares addresses and classifies the result into confidence tiers.
type Scorer struct {
	tiers Tiers
}

// NewScorer creates a scorer with the given tiers.
func NewScorer(tiers Tiers) *Scorer {
	return &Scorer{tiers: tiers}
}

// Tiers returns the thresholds the scorer classifies with.
func (s *Scorer) Tiers() Tiers {
	return s.tiers
}

// Score returns the similarity of a and b in [0, 100]. The street comparison
// keys are ratio-scored, then borough and postal code agreement add boosts.
func (s *Scorer) Score(a, b models.Address) int {
	score := Ratio(normalize.ComparisonKey(a), normalize.ComparisonKey(b))

	if sameNonEmpty(a.Borough, b.Borough, strings.EqualFold) {
		score = min(score+BoroughBoost, MaxScore)
	}
	if sameNonEmpty(a.PostalCode, b.PostalCode, func(x, y string) bool { return x == y }) {
		score = min(score+PostalCodeBoost, MaxScore)
	}
	return score
}

// Match scores a against b and classifies the score. ok is false when the
// score falls below the match threshold.
func (s *Scorer) Match(a, b models.Address) (score int, confidence models.Confidence, ok bool) {
	score = s.Score(a, b)
	confidence, ok = s.tiers.Classify(score)
	return score, confidence, ok
}

func sameNonEmpty(x, y string, eq func(string, string) bool) bool {
	x, y = strings.TrimSpace(x), strings.TrimSpace(y)
	return x != "" && y != "" && eq(x, y)
}
