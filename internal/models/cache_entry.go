package models

import "time"

// CacheEntry is one persisted row of the match cache.
type CacheEntry struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"-"`

	Street  string `gorm:"type:varchar(255);not null" json:"street"`
	Borough string `gorm:"type:varchar(64);not null" json:"borough"`

	// 物件情報
	Price     *float64 `gorm:"type:decimal(14,2)" json:"price,omitempty"`
	Bedrooms  *int     `gorm:"type:int" json:"bedrooms,omitempty"`
	Bathrooms *float64 `gorm:"type:decimal(4,1)" json:"bathrooms,omitempty"`
	URL       string   `gorm:"type:text" json:"url,omitempty"`

	// ビル情報
	BuildingID       string `gorm:"type:varchar(32)" json:"building_id,omitempty"`
	BIN              string `gorm:"type:varchar(32)" json:"bin,omitempty"`
	BBL              string `gorm:"type:varchar(32)" json:"bbl,omitempty"`
	TotalUnits       int    `gorm:"type:int;not null;default:0" json:"total_units"`
	ResidentialUnits int    `gorm:"type:int;not null;default:0" json:"residential_units"`
	BuildingClass    string `gorm:"type:varchar(16)" json:"building_class,omitempty"`

	SpecialUnitCount int        `gorm:"type:int;not null;default:0" json:"special_unit_count"`
	HasSpecialUnits  bool       `gorm:"not null;default:false" json:"has_special_units"`
	SpecialUnits     string     `gorm:"type:text" json:"special_units"`
	Confidence       Confidence `gorm:"type:varchar(16)" json:"confidence"`

	SavedAt time.Time `gorm:"type:datetime;not null" json:"saved_at"`
}

// TableName はテーブル名を明示的に指定
func (CacheEntry) TableName() string {
	return "hpd_match_cache"
}
