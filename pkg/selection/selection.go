// Package selection holds the city and pay zone the user parks in, and the
// one-shot nearest-city lookup that pre-selects a city.
package selection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"parkingbolid/pkg/refdata"
)

// ErrNoCity is returned when a zone is chosen before a city.
var ErrNoCity = errors.New("no city selected")

// CityDetector finds a default city, or nil.
type CityDetector interface {
	Detect(ctx context.Context) *refdata.City
}

// State owns the reference catalog and the current selection. Explicit
// selections always win over an automatic detection that completes later.
type State struct {
	catalog *refdata.Catalog
	log     zerolog.Logger

	mu       sync.Mutex
	city     *refdata.City
	zone     *refdata.PayZone
	seq      uint64
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	detected *refdata.City
}

// New creates an empty selection over catalog.
func New(catalog *refdata.Catalog, log zerolog.Logger) *State {
	return &State{catalog: catalog, log: log}
}

// Catalog returns the reference catalog.
func (s *State) Catalog() *refdata.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// Reload swaps in a new catalog. The selected city and zone are looked up
// again by name and id; whatever no longer exists is cleared.
func (s *State) Reload(catalog *refdata.Catalog) {
	if catalog == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
	if s.city == nil {
		return
	}
	c, ok := catalog.City(s.city.Name)
	if !ok {
		s.log.Info().Str("city", s.city.Name).Msg("selected city dropped by reload")
		s.city, s.zone = nil, nil
		return
	}
	s.city = &c
	if s.zone == nil {
		return
	}
	z, err := catalog.PayZone(c.Name, s.zone.ID)
	if err != nil {
		s.zone = nil
		return
	}
	s.zone = &z
}

// City returns the selected city or nil.
func (s *State) City() *refdata.City {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.city == nil {
		return nil
	}
	c := *s.city
	return &c
}

// Zone returns the selected pay zone or nil.
func (s *State) Zone() *refdata.PayZone {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zone == nil {
		return nil
	}
	z := *s.zone
	return &z
}

// SelectCity selects a city by name; an empty name clears the selection.
// Changing the city clears the zone.
func (s *State) SelectCity(name string) (*refdata.City, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *refdata.City
	if name != "" {
		c, ok := s.catalog.City(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", refdata.ErrUnknownCity, name)
		}
		next = &c
	}
	s.seq++
	if next == nil || s.city == nil || s.city.Name != next.Name {
		s.zone = nil
	}
	s.city = next
	return next, nil
}

// SelectZone selects a pay zone of the selected city by id; an empty id
// clears it.
func (s *State) SelectZone(id string) (*refdata.PayZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if id == "" {
		s.seq++
		s.zone = nil
		return nil, nil
	}
	if s.city == nil {
		return nil, ErrNoCity
	}
	z, err := s.catalog.PayZone(s.city.Name, id)
	if err != nil {
		return nil, err
	}
	s.seq++
	s.zone = &z
	return &z, nil
}

// CityZones lists the pay zones of the selected city.
func (s *State) CityZones() []refdata.PayZone {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.city == nil {
		return []refdata.PayZone{}
	}
	return s.catalog.PayZones(s.city.Name)
}

// Detected returns the city the last automatic detection found, if any.
func (s *State) Detected() *refdata.City {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detected
}

// Detecting reports whether an automatic detection is running.
func (s *State) Detecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// AutoDetect starts a one-shot detection of the default city. Its result is
// applied only if no city is selected, no explicit selection happened after
// the start, and the state was not closed. It returns false when nothing was
// started.
func (s *State) AutoDetect(ctx context.Context, d CityDetector) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.city != nil || d == nil {
		return false
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return false
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.detected = nil
	startSeq := s.seq

	go func() {
		defer close(done)
		defer cancel()
		found := d.Detect(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case found == nil:
			s.log.Debug().Msg("no default city detected")
		case s.closed || ctx.Err() != nil:
			s.log.Debug().Str("city", found.Name).Msg("discarding late city detection")
		case s.seq != startSeq || s.city != nil:
			s.detected = found
			s.log.Debug().Str("city", found.Name).Msg("city already chosen, keeping user selection")
		default:
			s.detected = found
			s.city = found
			s.log.Info().Str("city", found.Name).Msg("default city detected")
		}
	}()
	return true
}

// Wait blocks until the running detection, if any, has finished.
func (s *State) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels a running detection; its result is discarded.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

// SearchCities returns city names containing query, ignoring case and
// diacritics. An empty query returns every city.
func (s *State) SearchCities(query string) []string {
	q := fold(strings.TrimSpace(query))
	out := []string{}
	for _, name := range s.Catalog().CityNames() {
		if q == "" || strings.Contains(fold(name), q) {
			out = append(out, name)
		}
	}
	return out
}

// fold lower-cases s and strips diacritics so "Cacak" matches "Čačak".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	return strings.NewReplacer("đ", "d", "Đ", "d").Replace(out)
}
