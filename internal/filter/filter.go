// Package filter gates merged records against investment criteria and ranks
// the survivors by an additive investment score.
package filter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"listing-enricher/internal/models"
)

// Score weights.
const (
	specialUnitsBase   = 30.0
	perSpecialUnit     = 10.0
	maxSpecialUnitPart = 30.0
	perUnit            = 5.0
	maxUnitPart        = 25.0
	maxScore           = 100.0
)

// InvestmentFilter applies a Criteria set to merged records.
type InvestmentFilter struct {
	criteria Criteria
	logger   *slog.Logger
}

// New creates a filter for criteria.
func New(criteria Criteria, logger *slog.Logger) *InvestmentFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvestmentFilter{
		criteria: criteria,
		logger:   logger.With("component", "investment_filter"),
	}
}

// Criteria returns the active criteria.
func (f *InvestmentFilter) Criteria() Criteria {
	return f.criteria
}

// FilterAndScore returns the records passing every gate, each marked as
// meeting criteria and carrying its score and note, sorted by descending
// score. Equal scores keep their input order. Passing records are updated
// in place in records as well.
func (f *InvestmentFilter) FilterAndScore(records []models.MergedRecord) []models.MergedRecord {
	passed := make([]models.MergedRecord, 0)
	for i := range records {
		rec := &records[i]
		if !f.Passes(rec) {
			continue
		}
		score := f.Score(rec)
		rec.MeetsCriteria = true
		rec.Score = score
		rec.Notes = fmt.Sprintf("Investment Score: %.1f/100", score)
		passed = append(passed, *rec)

		f.logger.Debug("record passed filters",
			"street", rec.Listing.Address.Street,
			"score", score,
		)
	}

	sort.SliceStable(passed, func(i, j int) bool {
		return passed[i].Score > passed[j].Score
	})

	f.logger.Info("filtered records", "passed", len(passed), "total", len(records))
	return passed
}

// Passes reports whether rec clears every gate.
func (f *InvestmentFilter) Passes(rec *models.MergedRecord) bool {
	return f.meetsPrice(rec) &&
		f.meetsBedrooms(rec) &&
		f.meetsBathrooms(rec) &&
		f.meetsUnits(rec) &&
		f.meetsSpecialUnits(rec) &&
		f.meetsBorough(rec) &&
		f.meetsPropertyType(rec)
}

func (f *InvestmentFilter) meetsPrice(rec *models.MergedRecord) bool {
	p := rec.Listing.Price
	return p != nil && f.criteria.MinPrice <= *p && *p <= f.criteria.MaxPrice
}

func (f *InvestmentFilter) meetsBedrooms(rec *models.MergedRecord) bool {
	b := rec.Listing.Bedrooms
	return b != nil && *b >= f.criteria.MinBedrooms
}

func (f *InvestmentFilter) meetsBathrooms(rec *models.MergedRecord) bool {
	b := rec.Listing.Bathrooms
	return b != nil && *b >= f.criteria.MinBathrooms
}

// meetsUnits fails unmatched records: without a building the unit count is unknown.
func (f *InvestmentFilter) meetsUnits(rec *models.MergedRecord) bool {
	return rec.MatchFound && rec.TotalUnits >= f.criteria.MinUnits
}

func (f *InvestmentFilter) meetsSpecialUnits(rec *models.MergedRecord) bool {
	return !f.criteria.RequireSpecialUnits || rec.HasSpecialUnits()
}

// meetsBorough compares borough names exactly.
func (f *InvestmentFilter) meetsBorough(rec *models.MergedRecord) bool {
	if len(f.criteria.Boroughs) == 0 {
		return true
	}
	borough := rec.Listing.Address.Borough
	if borough == "" {
		return false
	}
	for _, b := range f.criteria.Boroughs {
		if b == borough {
			return true
		}
	}
	return false
}

// meetsPropertyType accepts a type containing any allowed entry, ignoring case.
func (f *InvestmentFilter) meetsPropertyType(rec *models.MergedRecord) bool {
	if len(f.criteria.PropertyTypes) == 0 {
		return true
	}
	pt := strings.ToLower(rec.Listing.PropertyType)
	if pt == "" {
		return false
	}
	for _, want := range f.criteria.PropertyTypes {
		if strings.Contains(pt, strings.ToLower(want)) {
			return true
		}
	}
	return false
}

// Score computes the investment score of rec in [0, 100]:
//
//	special units present         +30
//	10 per special unit           up to +30
//	5 per unit                    up to +25
//	price per unit <=100k/150k/200k  +15/+10/+5
//	days on market <=7/14/30         +10/+7/+5
func (f *InvestmentFilter) Score(rec *models.MergedRecord) float64 {
	score := 0.0

	if rec.HasSpecialUnits() {
		score += specialUnitsBase
	}
	score += min(float64(rec.SpecialUnitCount)*perSpecialUnit, maxSpecialUnitPart)

	if rec.TotalUnits > 0 {
		score += min(float64(rec.TotalUnits)*perUnit, maxUnitPart)
	}

	if p := rec.Listing.Price; p != nil && *p > 0 && rec.TotalUnits > 0 {
		perUnitPrice := *p / float64(rec.TotalUnits)
		switch {
		case perUnitPrice <= 100_000:
			score += 15
		case perUnitPrice <= 150_000:
			score += 10
		case perUnitPrice <= 200_000:
			score += 5
		}
	}

	if d := rec.Listing.DaysOnMarket; d != nil {
		switch {
		case *d <= 7:
			score += 10
		case *d <= 14:
			score += 7
		case *d <= 30:
			score += 5
		}
	}

	return min(score, maxScore)
}
