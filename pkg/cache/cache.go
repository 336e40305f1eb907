// Package cache provides a process-lifetime store for fetched catalog
// payloads, keyed by request identity. Entries are never invalidated within
// a run; callers that need fresh data bypass the lookup and write back.
package cache

import (
	"sync"
	"time"
)

// Entry holds a cached payload or failure marker for one request
type Entry struct {
	Key       string
	FetchedAt time.Time
	Payload   []byte
	Err       error
}

// Store is a key-indexed payload store safe for concurrent use.
// A miss followed by a concurrent put for the same key resolves as last
// write wins; at most one redundant fetch may occur under raced misses.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty store
func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the entry for key and whether it was present
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Put stores a successful payload for key
func (s *Store) Put(key string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{Key: key, FetchedAt: time.Now(), Payload: payload}
}

// PutError stores a failure marker for key
func (s *Store) PutError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{Key: key, FetchedAt: time.Now(), Err: err}
}

// Len returns the number of cached entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
