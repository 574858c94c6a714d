package models

import "time"

// Confidence is the tier assigned to an accepted match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// MergedRecord pairs a listing with the building it was matched to, if any.
type MergedRecord struct {
	Listing          RawListing      `json:"listing"`
	Building         *BuildingRecord `json:"building,omitempty"`
	MatchFound       bool            `json:"match_found"`
	Confidence       Confidence      `json:"confidence,omitempty"`
	SpecialUnitCount int             `json:"special_unit_count"`
	TotalUnits       int             `json:"total_units"`
	MeetsCriteria    bool            `json:"meets_criteria"`
	Score            float64         `json:"score"`
	Notes            string          `json:"notes,omitempty"`
	ProcessedAt      time.Time       `json:"processed_at"`
}

// NewMergedRecord returns an unmatched record for the listing.
func NewMergedRecord(listing RawListing) MergedRecord {
	return MergedRecord{
		Listing:     listing,
		ProcessedAt: time.Now(),
	}
}

// Attach marks the record as matched to b and copies the derived unit counts.
func (m *MergedRecord) Attach(b *BuildingRecord, confidence Confidence) {
	if b == nil {
		return
	}
	m.Building = b
	m.MatchFound = true
	m.Confidence = confidence
	m.SpecialUnitCount = len(b.SpecialUnits)
	m.TotalUnits = b.TotalUnits
}

// HasSpecialUnits reports whether the matched building has special units.
func (m *MergedRecord) HasSpecialUnits() bool {
	return m.SpecialUnitCount > 0
}

// Borough returns the listing's borough.
func (m *MergedRecord) Borough() string {
	return m.Listing.Address.Borough
}
