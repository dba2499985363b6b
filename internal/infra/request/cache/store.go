// Package cache provides a time-bounded key/value store for read responses.
//
// Eviction is lazy: an expired entry is removed when a Get finds it, or
// when the store is cleared. There is no background sweeper.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer visible at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is a concurrency-safe TTL map.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]Entry[V]
	now     func() time.Time
}

// NewStore creates an empty store. A nil clock defaults to time.Now.
func NewStore[V any](now func() time.Time) *Store[V] {
	if now == nil {
		now = time.Now
	}
	return &Store[V]{
		entries: make(map[string]Entry[V]),
		now:     now,
	}
}

// Get returns the value for key if present and not expired.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	entry, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	if entry.Expired(s.now()) {
		delete(s.entries, key)
		return zero, false
	}
	return entry.Value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry[V]{
		Key:       key,
		Value:     value,
		ExpiresAt: s.now().Add(ttl),
	}
}

// Invalidate removes key. It reports whether an entry existed.
func (s *Store[V]) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// InvalidatePrefix removes every key starting with prefix and returns how many were removed.
func (s *Store[V]) InvalidatePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops all entries.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry[V])
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
