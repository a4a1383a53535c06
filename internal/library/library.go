package library

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zombor/quickscan/internal/scan"
)

// ErrDuplicateID is returned when adding a scan whose ID is already saved
var ErrDuplicateID = errors.New("scan id already in library")

// ErrNotFound is returned by Get for an unknown ID
var ErrNotFound = errors.New("scan not found")

// Store defines the persistence boundary. The whole collection is read
// once at startup and written after every mutation.
type Store interface {
	// LoadAll returns every saved scan, most recent first
	LoadAll() ([]scan.Result, error)

	// SaveAll replaces the persisted collection
	SaveAll(results []scan.Result) error

	// Close releases the store
	Close() error
}

// Library is the ordered collection of finalized scans, most recent first
type Library struct {
	store Store

	mu      sync.RWMutex
	results []scan.Result
}

// Open loads the library from the store. An unreadable collection is
// logged and treated as empty so the application can proceed.
func Open(store Store) *Library {
	results, err := store.LoadAll()
	if err != nil {
		slog.Warn("Failed to read scan library, starting empty", "error", err)
		results = nil
	}
	return &Library{store: store, results: results}
}

// Add prepends the result and persists the collection
func (l *Library) Add(result scan.Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.results {
		if r.ID == result.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, result.ID)
		}
	}

	next := make([]scan.Result, 0, len(l.results)+1)
	next = append(next, result)
	next = append(next, l.results...)

	if err := l.store.SaveAll(next); err != nil {
		return fmt.Errorf("saving library: %w", err)
	}
	l.results = next
	slog.Info("Scan saved", "scan_id", result.ID, "count", len(next))
	return nil
}

// Delete removes the scan with the given ID. An absent ID is a no-op.
func (l *Library) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i, r := range l.results {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	next := make([]scan.Result, 0, len(l.results)-1)
	next = append(next, l.results[:idx]...)
	next = append(next, l.results[idx+1:]...)

	if err := l.store.SaveAll(next); err != nil {
		return fmt.Errorf("saving library: %w", err)
	}
	l.results = next
	slog.Info("Scan deleted", "scan_id", id, "count", len(next))
	return nil
}

// Get returns the scan with the given ID
func (l *Library) Get(id string) (scan.Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.results {
		if r.ID == id {
			return r, nil
		}
	}
	return scan.Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// All returns a copy of the collection in library order
func (l *Library) All() []scan.Result {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]scan.Result{}, l.results...)
}

// Len returns the number of saved scans
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}

// Search matches the query case-insensitively against title or OCR text.
// An empty query matches everything.
func (l *Library) Search(query string) []scan.Result {
	l.mu.RLock()
	defer l.mu.RUnlock()

	needle := strings.ToLower(query)
	matches := make([]scan.Result, 0)
	for _, r := range l.results {
		if needle == "" ||
			strings.Contains(strings.ToLower(r.Title), needle) ||
			strings.Contains(strings.ToLower(r.OCRText), needle) {
			matches = append(matches, r)
		}
	}
	return matches
}

// Flush writes the current collection to the store
func (l *Library) Flush() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.store.SaveAll(l.results); err != nil {
		return fmt.Errorf("saving library: %w", err)
	}
	return nil
}

// Close closes the underlying store
func (l *Library) Close() error {
	return l.store.Close()
}
