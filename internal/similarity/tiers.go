package similarity

import (
	"fmt"

	"listing-enricher/internal/models"
)

// Tiers holds the match threshold and the confidence cutoffs.
type Tiers struct {
	MatchThreshold int `yaml:"threshold" json:"threshold"`
	High           int `yaml:"high" json:"high"`
	Medium         int `yaml:"medium" json:"medium"`
}

// DefaultTiers returns the standard thresholds: match at 80, Medium at 85, High at 95.
func DefaultTiers() Tiers {
	return Tiers{
		MatchThreshold: 80,
		High:           95,
		Medium:         85,
	}
}

// Classify maps a score to a confidence tier. ok is false below the match threshold.
func (t Tiers) Classify(score int) (models.Confidence, bool) {
	switch {
	case score < t.MatchThreshold:
		return "", false
	case score >= t.High:
		return models.ConfidenceHigh, true
	case score >= t.Medium:
		return models.ConfidenceMedium, true
	default:
		return models.ConfidenceLow, true
	}
}

// Validate checks that the cutoffs are ordered and within [0, 100].
func (t Tiers) Validate() error {
	if t.MatchThreshold < 0 || t.High > MaxScore {
		return fmt.Errorf("tiers out of range: threshold=%d high=%d", t.MatchThreshold, t.High)
	}
	if t.Medium > t.High {
		return fmt.Errorf("medium cutoff %d above high cutoff %d", t.Medium, t.High)
	}
	return nil
}
