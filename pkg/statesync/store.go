// Package statesync maintains a push-updated local mirror of remote entity
// states, detects per-entity changes, fans those changes out to named,
// filterable, optionally-expiring subscriptions, and keeps the response
// cache consistent with what changed. The Engine type is the composition
// root; the remaining types are its passive collaborators, invoked once per
// incoming batch.
package statesync

import (
	"sort"
	"sync"

	"github.com/germanamz/hearth/pkg/entity"
)

// generations holds the two retained snapshots of one entity. previous is
// nil until the entity has been observed twice.
type generations struct {
	current  entity.Entity
	previous *entity.Entity
}

// Store holds the current and immediately-previous snapshot of every
// observed entity. It is safe for concurrent use: readers always observe a
// consistent (current, previous) pair, never one mid-shift.
type Store struct {
	mu   sync.RWMutex
	gens map[string]generations
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{gens: make(map[string]generations)}
}

// Get returns the current and previous snapshots for id. previous is nil
// for an entity observed only once. The returned values do not alias the
// store's internal maps.
func (s *Store) Get(id string) (current entity.Entity, previous *entity.Entity, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.gens[id]
	if !ok {
		return entity.Entity{}, nil, false
	}

	current = g.current.Clone()
	if g.previous != nil {
		prev := g.previous.Clone()
		previous = &prev
	}

	return current, previous, true
}

// Update shifts the current snapshot of id into the previous slot and
// installs snap as the new current. On first sight of an id the previous
// slot stays empty.
func (s *Store) Update(id string, snap entity.Entity) {
	snap = snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gens[id]
	if ok {
		prev := g.current
		g.previous = &prev
	}
	g.current = snap

	s.gens[id] = g
}

// IDs returns the sorted ids of all observed entities.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.gens))
	for id := range s.gens {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Len returns the number of observed entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.gens)
}
