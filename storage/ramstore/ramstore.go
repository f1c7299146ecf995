// Package ramstore implements a storage.Provider entirely in memory, used
// for in-process testing of the layers above it without a network hop.
package ramstore

import (
	"sync"

	"github.com/diskfs/vdiskfs/storage"
)

// Store is an in-memory storage.Provider.
type Store struct {
	geometry storage.Geometry
	mu       sync.RWMutex
	data     []byte
}

var _ storage.Provider = (*Store)(nil)

// New creates a RAM-backed store with the given geometry. The geometry must
// pass storage.Geometry.Validate.
func New(g storage.Geometry) (*Store, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		geometry: g,
		data:     make([]byte, g.Size()),
	}, nil
}

func (s *Store) ReadSector(addr uint64, out []byte) error {
	if err := storage.CheckAddr(s.geometry, addr); err != nil {
		return err
	}
	bps := s.geometry.BytesPerSector
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy(out, s.data[addr*bps:addr*bps+bps])
	return nil
}

func (s *Store) WriteSector(addr uint64, in []byte) error {
	if err := storage.CheckAddr(s.geometry, addr); err != nil {
		return err
	}
	bps := s.geometry.BytesPerSector
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.data[addr*bps:addr*bps+bps], in)
	return nil
}

func (s *Store) Describe() storage.Geometry { return s.geometry }

func (s *Store) Shutdown() error { return nil }
