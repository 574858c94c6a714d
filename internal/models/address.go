package models

import "strings"

// Address is a postal address as reported by a listing or a building registry.
// Only Street is required; every other part may be empty.
type Address struct {
	Street     string `json:"street" yaml:"street"`
	City       string `json:"city,omitempty" yaml:"city,omitempty"`
	State      string `json:"state,omitempty" yaml:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty" yaml:"postal_code,omitempty"`
	Borough    string `json:"borough,omitempty" yaml:"borough,omitempty"`
}

// String renders the address as "street, city, state zip", skipping empty parts.
func (a Address) String() string {
	parts := []string{strings.TrimSpace(a.Street)}
	if city := strings.TrimSpace(a.City); city != "" {
		parts = append(parts, city)
	}
	tail := strings.TrimSpace(strings.TrimSpace(a.State) + " " + strings.TrimSpace(a.PostalCode))
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}
