package cache

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store. Snapshots round-trip through the JSON
// encoding so that tests observe the same semantics as persistent backends.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string][]byte
	saves int

	// SaveErr, if non-nil, is returned by Save.
	SaveErr error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, slot string) (Snapshot, error) {
	s.mu.Lock()
	data := s.slots[slot]
	s.mu.Unlock()
	return decodeSnapshot(data)
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, slot string, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.slots[slot] = data
	return nil
}

// SetRaw stores data verbatim under slot.
func (s *MemoryStore) SetRaw(slot string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = data
}

// Saves returns the number of Save calls.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
