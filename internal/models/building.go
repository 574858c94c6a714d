package models

import "time"

// SpecialUnit is a unit of regulatory interest, e.g. a basement unit.
type SpecialUnit struct {
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Special bool   `json:"special"`
}

// SpecialUnitKindBasement is the kind assigned to basement ("B") units.
const SpecialUnitKindBasement = "Basement"

// BuildingRecord is a building as known to the housing registry.
type BuildingRecord struct {
	BuildingID           string        `json:"building_id"`
	BIN                  string        `json:"bin,omitempty"`
	BBL                  string        `json:"bbl,omitempty"`
	Address              Address       `json:"address"`
	TotalUnits           int           `json:"total_units"`
	ResidentialUnits     int           `json:"residential_units,omitempty"`
	SpecialUnits         []SpecialUnit `json:"special_units,omitempty"`
	BuildingClass        string        `json:"building_class,omitempty"`
	RegistrationID       string        `json:"registration_id,omitempty"`
	LastRegistrationDate *time.Time    `json:"last_registration_date,omitempty"`
	OwnerName            string        `json:"owner_name,omitempty"`
}

// HasSpecialUnits reports whether the building carries any special units.
func (b *BuildingRecord) HasSpecialUnits() bool {
	return b != nil && len(b.SpecialUnits) > 0
}

// SpecialUnitLabels returns the labels of the special units in order.
func (b *BuildingRecord) SpecialUnitLabels() []string {
	if b == nil {
		return nil
	}
	labels := make([]string, 0, len(b.SpecialUnits))
	for _, u := range b.SpecialUnits {
		labels = append(labels, u.Label)
	}
	return labels
}
