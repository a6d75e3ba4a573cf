package positions

import (
	"sync"

	"github.com/matzehuels/testmap/pkg/diagram"
)

// Store is an in-memory, concurrency-safe map from node id to override.
// It implements [diagram.OverrideLookup].
type Store struct {
	mu sync.RWMutex
	m  map[string]Override
}

var _ diagram.OverrideLookup = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{m: make(map[string]Override)}
}

// Get returns the stored position for nodeID.
func (s *Store) Get(nodeID string) (diagram.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.m[nodeID]
	if !ok {
		return diagram.Position{}, false
	}
	return o.Position(), true
}

// Lookup returns the full override for nodeID.
func (s *Store) Lookup(nodeID string) (Override, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.m[nodeID]
	return o, ok
}

// Set stores o, replacing any previous entry for the same node.
func (s *Store) Set(o Override) {
	s.mu.Lock()
	s.m[o.NodeID] = o
	s.mu.Unlock()
}

// SetMany stores every override. Entries without a node id are ignored.
func (s *Store) SetMany(overrides []Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range overrides {
		if o.NodeID == "" {
			continue
		}
		s.m[o.NodeID] = o
	}
}

// Delete removes the entry for nodeID.
func (s *Store) Delete(nodeID string) {
	s.mu.Lock()
	delete(s.m, nodeID)
	s.mu.Unlock()
}

// Snapshot returns all overrides sorted by node id.
func (s *Store) Snapshot() []Override {
	s.mu.RLock()
	out := make([]Override, 0, len(s.m))
	for _, o := range s.m {
		out = append(out, o)
	}
	s.mu.RUnlock()
	SortByNode(out)
	return out
}

// Len returns the number of stored overrides.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Reset drops every entry.
func (s *Store) Reset() {
	s.mu.Lock()
	s.m = make(map[string]Override)
	s.mu.Unlock()
}

// Remove drops the entries of ids and returns how many existed.
func (s *Store) Remove(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.m[id]; ok {
			delete(s.m, id)
			n++
		}
	}
	return n
}
