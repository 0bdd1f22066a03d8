// Package storage holds the persistent key/value streams the analyzer keeps
// per unit. Implementations must tolerate concurrent access to distinct keys.
package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/ritzau/category-sync/pkg/model"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("storage is closed")

// Store reads and writes opaque byte streams keyed by (unit, key)
type Store interface {
	// ReadStream returns the stored bytes and whether anything was stored
	ReadStream(ctx context.Context, unit model.UnitID, key string) ([]byte, bool, error)

	// WriteStream replaces whatever is stored under (unit, key)
	WriteStream(ctx context.Context, unit model.UnitID, key string, data []byte) error

	Close() error
}

// Lister is implemented by stores that can enumerate their units
type Lister interface {
	// Units lists the units that have a stream stored under key, in key order
	Units(ctx context.Context, key string) ([]model.UnitID, error)
}

// MemoryStore is an in-process Store, used by tests and one-shot runs without a cache path
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func memoryKey(unit model.UnitID, key string) string {
	return unit.String() + "\x00" + key
}

func (s *MemoryStore) ReadStream(ctx context.Context, unit model.UnitID, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	data, ok := s.data[memoryKey(unit, key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *MemoryStore) WriteStream(ctx context.Context, unit model.UnitID, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[memoryKey(unit, key)] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Units(ctx context.Context, key string) ([]model.UnitID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var raw []string
	for k := range s.data {
		if unit, streamKey, ok := strings.Cut(k, "\x00"); ok && streamKey == key {
			raw = append(raw, unit)
		}
	}
	slices.Sort(raw)

	units := make([]model.UnitID, 0, len(raw))
	for _, r := range raw {
		unit, err := model.ParseUnitID(r)
		if err != nil {
			continue
		}
		units = append(units, unit)
	}
	return units, nil
}

// Len returns the number of stored streams
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
