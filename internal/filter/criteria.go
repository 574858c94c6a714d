package filter

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Criteria is the investment criteria set. Empty allow-lists accept everything.
type Criteria struct {
	MinPrice            float64  `yaml:"min_price" json:"min_price"`
	MaxPrice            float64  `yaml:"max_price" json:"max_price"`
	MinBedrooms         int      `yaml:"min_bedrooms" json:"min_bedrooms"`
	MinBathrooms        float64  `yaml:"min_bathrooms" json:"min_bathrooms"`
	MinUnits            int      `yaml:"min_units" json:"min_units"`
	RequireSpecialUnits bool     `yaml:"require_special_units" json:"require_special_units"`
	Boroughs            []string `yaml:"boroughs" json:"boroughs"`
	PropertyTypes       []string `yaml:"property_types" json:"property_types"`
}

// DefaultCriteria returns the default criteria: up to $2.5M, 5+ bedrooms,
// 4+ bathrooms, 2+ units, special units required, any borough or type.
func DefaultCriteria() Criteria {
	return Criteria{
		MinPrice:            0,
		MaxPrice:            2_500_000,
		MinBedrooms:         5,
		MinBathrooms:        4.0,
		MinUnits:            2,
		RequireSpecialUnits: true,
	}
}

// Validate checks the numeric bounds.
func (c Criteria) Validate() error {
	if c.MinPrice < 0 || c.MaxPrice < 0 {
		return fmt.Errorf("price bounds must not be negative")
	}
	if c.MaxPrice < c.MinPrice {
		return fmt.Errorf("max price %.0f below min price %.0f", c.MaxPrice, c.MinPrice)
	}
	if c.MinBedrooms < 0 || c.MinBathrooms < 0 || c.MinUnits < 0 {
		return fmt.Errorf("minimums must not be negative")
	}
	return nil
}

// Summary is a human-readable rendering of the criteria.
type Summary struct {
	PriceRange          string  `json:"price_range"`
	MinBedrooms         int     `json:"min_bedrooms"`
	MinBathrooms        float64 `json:"min_bathrooms"`
	MinUnits            int     `json:"min_units"`
	RequireSpecialUnits bool    `json:"require_special_units"`
	Boroughs            string  `json:"boroughs"`
	PropertyTypes       string  `json:"property_types"`
}

var printer = message.NewPrinter(language.English)

// Summary renders the criteria for display.
func (c Criteria) Summary() Summary {
	return Summary{
		PriceRange:          printer.Sprintf("$%.0f - $%.0f", c.MinPrice, c.MaxPrice),
		MinBedrooms:         c.MinBedrooms,
		MinBathrooms:        c.MinBathrooms,
		MinUnits:            c.MinUnits,
		RequireSpecialUnits: c.RequireSpecialUnits,
		Boroughs:            joinOrAny(c.Boroughs),
		PropertyTypes:       joinOrAny(c.PropertyTypes),
	}
}

func joinOrAny(list []string) string {
	if len(list) == 0 {
		return "Any"
	}
	return strings.Join(list, ", ")
}
