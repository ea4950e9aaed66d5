// Package city resolves cities from plate prefixes, validates parking-zone
// codes against a city's zone list and finds the city nearest to the device.
package city

import (
	"regexp"
	"slices"
	"strings"

	"parkingbolid/pkg/refdata"
)

var prefixPattern = regexp.MustCompile(`^[A-ZČĆŽŠĐ]{1,2}`)

// Resolver answers city and zone questions against a reference catalog.
type Resolver struct {
	catalog *refdata.Catalog
}

// NewResolver creates a resolver over catalog.
func NewResolver(catalog *refdata.Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Catalog returns the underlying reference catalog.
func (r *Resolver) Catalog() *refdata.Catalog { return r.catalog }

// FindCityByPlate returns the first city in table order whose plate prefix
// equals the leading letters of plate, or nil. Shared prefixes resolve to
// the first row.
func (r *Resolver) FindCityByPlate(plate string) *refdata.City {
	prefix := prefixPattern.FindString(strings.ToUpper(strings.TrimSpace(plate)))
	if prefix == "" {
		return nil
	}
	for _, c := range r.catalog.Cities() {
		if strings.EqualFold(c.PlatePrefix, prefix) {
			return &c
		}
	}
	return nil
}

// IsValidZoneForCity reports whether zone is listed for city. Empty
// arguments and unknown cities are never valid. No normalization is done.
func (r *Resolver) IsValidZoneForCity(city, zone string) bool {
	if city == "" || zone == "" {
		return false
	}
	zones, ok := r.catalog.Zones(city)
	if !ok {
		return false
	}
	return slices.Contains(zones, zone)
}

// GetZonesForCity returns the city's zone codes, or an empty slice.
func (r *Resolver) GetZonesForCity(city string) []string {
	zones, ok := r.catalog.Zones(city)
	if !ok {
		return []string{}
	}
	return zones
}
