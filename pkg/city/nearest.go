package city

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/refdata"
)

const earthRadiusKm = 6371.0

// Coordinates is a WGS84 position in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Locator is the host positioning capability.
type Locator interface {
	// RequestPermission asks for location access; false means denied.
	RequestPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

// errPermissionDenied is logged, never returned to callers.
var errPermissionDenied = errors.New("location permission denied")

// Distance returns the great-circle distance in kilometres (haversine).
func Distance(a, b Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Nearest returns the city with known coordinates closest to at. Ties keep
// the first city in table order. Nil when no city has coordinates.
func Nearest(cities []refdata.City, at Coordinates) *refdata.City {
	var best *refdata.City
	bestDist := math.Inf(1)
	for i := range cities {
		c := cities[i]
		if !c.HasCoordinates() {
			continue
		}
		d := Distance(at, Coordinates{Latitude: *c.Latitude, Longitude: *c.Longitude})
		if d < bestDist {
			bestDist = d
			best = &c
		}
	}
	return best
}

// NearestCityDetector resolves the device position to the nearest city.
type NearestCityDetector struct {
	catalog *refdata.Catalog
	locator Locator
	timeout time.Duration
	log     zerolog.Logger
}

// NewNearestCityDetector creates a detector. A zero timeout means no limit
// beyond the caller's context.
func NewNearestCityDetector(catalog *refdata.Catalog, locator Locator, timeout time.Duration, log zerolog.Logger) *NearestCityDetector {
	return &NearestCityDetector{catalog: catalog, locator: locator, timeout: timeout, log: log}
}

// Detect returns the nearest city or nil. Permission denial, positioning
// failures and timeouts are logged at debug and reported as nil.
func (d *NearestCityDetector) Detect(ctx context.Context) *refdata.City {
	c, err := d.detect(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("nearest city unavailable")
		return nil
	}
	return c
}

func (d *NearestCityDetector) detect(ctx context.Context) (*refdata.City, error) {
	if d.locator == nil {
		return nil, errors.New("no locator")
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	granted, err := d.locator.RequestPermission(ctx)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, errPermissionDenied
	}
	pos, err := d.locator.CurrentPosition(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := Nearest(d.catalog.Cities(), pos)
	if c == nil {
		return nil, errors.New("no city with known coordinates")
	}
	return c, nil
}

// FixedLocator reports a known position, for hosts that send coordinates
// with the request.
type FixedLocator Coordinates

// RequestPermission always grants.
func (FixedLocator) RequestPermission(context.Context) (bool, error) { return true, nil }

// CurrentPosition returns the fixed position.
func (l FixedLocator) CurrentPosition(context.Context) (Coordinates, error) {
	return Coordinates(l), nil
}
