// Package vehicles keeps the user's saved vehicles and the one currently
// selected for payment.
package vehicles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/store"
)

var (
	// ErrValidation is returned for vehicles rejected before persistence.
	ErrValidation = errors.New("invalid vehicle")
	// ErrNotFound is returned for an index outside the list.
	ErrNotFound = errors.New("vehicle not found")
)

var plateChars = regexp.MustCompile(`^[A-Za-z0-9ČĆŽŠĐčćžšđ -]+$`)

// Vehicle is a saved licence plate with an optional nickname.
type Vehicle struct {
	Plate    string `json:"plate"`
	Nickname string `json:"nickname,omitempty"`
}

// Label renders the vehicle the way pickers show it.
func (v Vehicle) Label() string {
	if v.Nickname != "" {
		return fmt.Sprintf("%s (%s)", v.Plate, v.Nickname)
	}
	return v.Plate
}

// Validate trims and upper-cases the plate and checks length and charset.
func Validate(v Vehicle) (Vehicle, error) {
	v.Plate = strings.ToUpper(strings.TrimSpace(v.Plate))
	v.Nickname = strings.TrimSpace(v.Nickname)
	n := utf8.RuneCountInString(v.Plate)
	switch {
	case n == 0:
		return v, fmt.Errorf("%w: plate is required", ErrValidation)
	case n < 3 || n > 12:
		return v, fmt.Errorf("%w: plate must be 3 to 12 characters", ErrValidation)
	case !plateChars.MatchString(v.Plate):
		return v, fmt.Errorf("%w: plate may contain only letters, digits, spaces and hyphens", ErrValidation)
	}
	return v, nil
}

// Registry is the vehicle list. The in-memory list is authoritative for the
// session; failed writes are reported with store.ErrPersistence but never
// rolled back.
type Registry struct {
	store store.Store
	log   zerolog.Logger

	mu       sync.RWMutex
	vehicles []Vehicle
	selected int
}

// NewRegistry creates an empty registry backed by s.
func NewRegistry(s store.Store, log zerolog.Logger) *Registry {
	return &Registry{store: s, log: log, selected: -1}
}

// Load replaces the list with the stored one and selects the first vehicle.
func (r *Registry) Load(ctx context.Context) error {
	raw, ok, err := r.store.Get(ctx, store.KeyVehicles)
	if err != nil {
		r.log.Warn().Err(err).Msg("load vehicles")
		return persistenceErr("load vehicles", err)
	}
	var list []Vehicle
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			r.log.Warn().Err(err).Msg("decode vehicles")
			return persistenceErr("decode vehicles", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicles = list
	r.selected = -1
	if len(list) > 0 {
		r.selected = 0
	}
	return nil
}

// List returns a copy of the vehicles.
func (r *Registry) List() []Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Vehicle{}, r.vehicles...)
}

// Selected returns the selected vehicle.
func (r *Registry) Selected() (Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected < 0 || r.selected >= len(r.vehicles) {
		return Vehicle{}, false
	}
	return r.vehicles[r.selected], true
}

// Select marks the vehicle at index as selected.
func (r *Registry) Select(index int) (Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.vehicles) {
		return Vehicle{}, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	r.selected = index
	return r.vehicles[index], nil
}

// Add validates and appends v. The first vehicle added becomes selected.
func (r *Registry) Add(ctx context.Context, v Vehicle) (Vehicle, error) {
	v, err := Validate(v)
	if err != nil {
		return v, err
	}
	r.mu.Lock()
	r.vehicles = append(r.vehicles, v)
	if r.selected < 0 {
		r.selected = len(r.vehicles) - 1
	}
	list := append([]Vehicle{}, r.vehicles...)
	r.mu.Unlock()
	return v, r.save(ctx, list)
}

// Update replaces the vehicle at index.
func (r *Registry) Update(ctx context.Context, index int, v Vehicle) (Vehicle, error) {
	v, err := Validate(v)
	if err != nil {
		return v, err
	}
	r.mu.Lock()
	if index < 0 || index >= len(r.vehicles) {
		r.mu.Unlock()
		return v, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	r.vehicles[index] = v
	list := append([]Vehicle{}, r.vehicles...)
	r.mu.Unlock()
	return v, r.save(ctx, list)
}

// Delete removes the vehicle at index. Deleting the selected vehicle selects
// the first remaining one.
func (r *Registry) Delete(ctx context.Context, index int) error {
	r.mu.Lock()
	if index < 0 || index >= len(r.vehicles) {
		r.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	r.vehicles = append(r.vehicles[:index:index], r.vehicles[index+1:]...)
	switch {
	case len(r.vehicles) == 0:
		r.selected = -1
	case r.selected == index:
		r.selected = 0
	case r.selected > index:
		r.selected--
	}
	list := append([]Vehicle{}, r.vehicles...)
	r.mu.Unlock()
	return r.save(ctx, list)
}

// Clear removes every vehicle.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.vehicles = nil
	r.selected = -1
	r.mu.Unlock()
	return r.save(ctx, []Vehicle{})
}

func (r *Registry) save(ctx context.Context, list []Vehicle) error {
	if list == nil {
		list = []Vehicle{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return persistenceErr("encode vehicles", err)
	}
	if err := r.store.Set(ctx, store.KeyVehicles, string(b)); err != nil {
		r.log.Warn().Err(err).Int("vehicles", len(list)).Msg("save vehicles")
		return persistenceErr("save vehicles", err)
	}
	return nil
}

func persistenceErr(op string, err error) error {
	if errors.Is(err, store.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, store.ErrPersistence, err)
}
