package app

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/quickscan/internal/export"
	"github.com/zombor/quickscan/internal/library"
)

// State is the process-wide application state: the tier flag and the
// scan library. Init loads it from the store and Close saves it back.
type State struct {
	store library.Store

	mu      sync.RWMutex
	tier    export.Tier
	library *library.Library
}

// NewState creates an uninitialized State
func NewState(store library.Store, tier export.Tier) *State {
	return &State{store: store, tier: tier}
}

// Init loads the library. Unreadable persisted data yields an empty library.
func (s *State) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.library = library.Open(s.store)
	slog.Info("Application state loaded", "scans", s.library.Len(), "tier", s.tier.String())
}

// Close writes the library one final time and releases the store
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.library == nil {
		return s.store.Close()
	}
	if err := s.library.Flush(); err != nil {
		s.library.Close()
		return fmt.Errorf("saving library: %w", err)
	}
	return s.library.Close()
}

// Library returns the scan library. Init must have been called.
func (s *State) Library() *library.Library {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.library
}

// Tier returns the current subscription tier
func (s *State) Tier() export.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tier
}

// SetTier changes the subscription tier
func (s *State) SetTier(tier export.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tier = tier
}
