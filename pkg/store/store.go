// Package store persists small string preferences such as the last selected
// city and zone and the saved vehicle list.
package store

import (
	"context"
	"errors"
	"sync"
)

// Preference keys.
const (
	KeyLastCity = "lastCity"
	KeyLastZone = "lastZone"
	KeyVehicles = "vehicles"
)

// ErrPersistence wraps every storage failure.
var ErrPersistence = errors.New("persistence failure")

// Store is a key/value preference store. Get reports ok=false for a missing
// key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
