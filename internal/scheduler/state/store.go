package state

import (
	"sync"
	"time"
)

// Applied records the schedule window a screen is currently pinned to.
// One occurrence is applied at most once; the scheduler compares against
// this record to decide whether a tick needs to touch the player at all.
type Applied struct {
	ScreenID   string
	EntryID    string
	PlaylistID string
	StartsAt   time.Time
	EndsAt     time.Time
	AppliedAt  time.Time
}

// Store keeps the in-memory applied-window map for quick change checks.
type Store struct {
	mu      sync.RWMutex
	applied map[string]Applied
}

// NewStore creates a scheduler state store.
func NewStore() *Store {
	return &Store{applied: make(map[string]Applied)}
}

// Current returns the window currently applied to the screen.
func (s *Store) Current(screenID string) (Applied, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applied[screenID]
	return a, ok
}

// SetCurrent replaces the applied window for a screen.
func (s *Store) SetCurrent(a Applied) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[a.ScreenID] = a
}

// Clear forgets the applied window for a screen.
func (s *Store) Clear(screenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, screenID)
}

// Snapshot returns a copy of every applied window.
func (s *Store) Snapshot() []Applied {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Applied, 0, len(s.applied))
	for _, a := range s.applied {
		out = append(out, a)
	}
	return out
}
