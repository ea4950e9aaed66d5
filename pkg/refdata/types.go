// Package refdata holds the static reference tables: cities with their
// licence-plate prefixes and coordinates, the valid parking-zone codes per
// city, and the payable zones with their SMS numbers.
package refdata

import "errors"

// ErrUnknownCity is returned when a city name is not in the catalog.
var ErrUnknownCity = errors.New("unknown city")

// ErrUnknownZone is returned when a pay zone id is not known for a city.
var ErrUnknownZone = errors.New("unknown pay zone")

// City is a single row of the city table. Name is the identity.
type City struct {
	Name        string   `json:"name"`
	PlatePrefix string   `json:"plate_prefix"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (c City) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// ZoneTable maps a city name to its ordered list of valid zone codes.
type ZoneTable map[string][]string

// PayZone is a payable parking zone of a city.
type PayZone struct {
	ID         string `json:"id"`
	ShortLabel string `json:"short_label"`
	FullLabel  string `json:"full_label,omitempty"`
	SMSNumber  string `json:"sms_number"`
	City       string `json:"city"`
}

// Label returns the full label when present, otherwise the short one.
func (z PayZone) Label() string {
	if z.FullLabel != "" {
		return z.FullLabel
	}
	return z.ShortLabel
}
