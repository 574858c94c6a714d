package models

import "time"

// RawListing is a for-sale listing as delivered by the listing source.
// Numeric attributes are pointers so that "absent" is distinguishable from zero.
type RawListing struct {
	ID            string        `json:"id"`
	Address       Address       `json:"address"`
	Price         *float64      `json:"price,omitempty"`
	Bedrooms      *int          `json:"bedrooms,omitempty"`
	Bathrooms     *float64      `json:"bathrooms,omitempty"`
	SquareFeet    *int          `json:"square_feet,omitempty"`
	PropertyType  string        `json:"property_type,omitempty"`
	URL           string        `json:"url,omitempty"`
	Source        string        `json:"source,omitempty"`
	ListingStatus ListingStatus `json:"listing_status,omitempty"`
	DaysOnMarket  *int          `json:"days_on_market,omitempty"`
	DiscoveredAt  time.Time     `json:"discovered_at"`
}

// ListingStatus は掲載ステータス
type ListingStatus string

const (
	ListingStatusForSale ListingStatus = "FOR_SALE"
	ListingStatusPending ListingStatus = "PENDING"
	ListingStatusSold    ListingStatus = "SOLD"
)

// IsForSale reports whether the listing is still on the market.
// An empty status is treated as for sale.
func (l *RawListing) IsForSale() bool {
	return l.ListingStatus == "" || l.ListingStatus == ListingStatusForSale
}
