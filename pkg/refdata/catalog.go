package refdata

import (
	"fmt"
	"strings"
)

// Catalog is the immutable, loaded-once view over the reference tables.
type Catalog struct {
	cities   []City
	byName   map[string]int
	zones    ZoneTable
	payZones map[string][]PayZone
}

// NewCatalog validates and normalizes the tables. City names must be unique
// and non-empty; zone codes are trimmed and empty codes dropped, keeping order.
func NewCatalog(cities []City, zones ZoneTable, payZones map[string][]PayZone) (*Catalog, error) {
	c := &Catalog{
		cities:   make([]City, 0, len(cities)),
		byName:   make(map[string]int, len(cities)),
		zones:    make(ZoneTable, len(zones)),
		payZones: make(map[string][]PayZone, len(payZones)),
	}
	for i, city := range cities {
		city.Name = strings.TrimSpace(city.Name)
		city.PlatePrefix = strings.TrimSpace(city.PlatePrefix)
		if city.Name == "" {
			return nil, fmt.Errorf("city table row %d: empty name", i)
		}
		if _, dup := c.byName[city.Name]; dup {
			return nil, fmt.Errorf("city table row %d: duplicate name %q", i, city.Name)
		}
		c.byName[city.Name] = len(c.cities)
		c.cities = append(c.cities, city)
	}
	for name, codes := range zones {
		name = strings.TrimSpace(name)
		clean := make([]string, 0, len(codes))
		for _, code := range codes {
			if code = strings.TrimSpace(code); code != "" {
				clean = append(clean, code)
			}
		}
		c.zones[name] = clean
	}
	for name, list := range payZones {
		name = strings.TrimSpace(name)
		out := make([]PayZone, 0, len(list))
		for i, z := range list {
			z.SMSNumber = strings.TrimSpace(z.SMSNumber)
			if z.SMSNumber == "" {
				return nil, fmt.Errorf("pay zones of %q row %d: empty sms number", name, i)
			}
			if z.ID == "" {
				z.ID = fmt.Sprintf("%s-%d", name, i)
			}
			z.City = name
			out = append(out, z)
		}
		c.payZones[name] = out
	}
	return c, nil
}

// Cities returns a copy of the city table in table order.
func (c *Catalog) Cities() []City {
	out := make([]City, len(c.cities))
	copy(out, c.cities)
	return out
}

// CityNames returns the city names in table order.
func (c *Catalog) CityNames() []string {
	out := make([]string, len(c.cities))
	for i, city := range c.cities {
		out[i] = city.Name
	}
	return out
}

// City looks a city up by its exact name.
func (c *Catalog) City(name string) (City, bool) {
	i, ok := c.byName[name]
	if !ok {
		return City{}, false
	}
	return c.cities[i], true
}

// Zones returns the valid zone codes of a city and whether the city is
// present in the zone table.
func (c *Catalog) Zones(name string) ([]string, bool) {
	codes, ok := c.zones[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(codes))
	copy(out, codes)
	return out, true
}

// PayZones returns the payable zones of a city, empty when none are known.
func (c *Catalog) PayZones(name string) []PayZone {
	list := c.payZones[name]
	out := make([]PayZone, len(list))
	copy(out, list)
	return out
}

// PayZone finds a payable zone of a city by ID.
func (c *Catalog) PayZone(city, id string) (PayZone, error) {
	list, ok := c.payZones[city]
	if !ok {
		return PayZone{}, fmt.Errorf("%w: %q has no pay zones", ErrUnknownCity, city)
	}
	for _, z := range list {
		if z.ID == id {
			return z, nil
		}
	}
	return PayZone{}, fmt.Errorf("%w: %q in %q", ErrUnknownZone, id, city)
}
