package state

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in process memory. Default backend, also used
// throughout the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*Snapshot),
	}
}

// Save implements Store.Save.
func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) (string, error) {
	stamp(snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = snap.Clone()
	return snap.ID, nil
}

// Load implements Store.Load.
func (s *MemoryStore) Load(_ context.Context, snapshotID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

// List implements Store.List.
func (s *MemoryStore) List(_ context.Context) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[snapshotID]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, snapshotID)
	return nil
}
