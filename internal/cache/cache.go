// Package cache provides the TTL keyed store the connectors write into
// and the query surface reads from.
//
// A single mutex guards the map, so every operation is linearizable and
// readers never observe a partially-updated entry. Expiry is lazy on Get
// and swept opportunistically on Snapshot.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL applies to Set and to SetTTL calls without a positive TTL.
const DefaultTTL = 5 * time.Second

// Entry is the read-side view of one live cache entry.
type Entry struct {
	Data       any     `json:"data"`
	AgeSeconds float64 `json:"age_seconds"`
	TTL        float64 `json:"ttl"` // seconds
}

// Stats counts entries without removing expired ones.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	ValidEntries   int `json:"valid_entries"`
	ExpiredEntries int `json:"expired_entries"`
}

type entry struct {
	data       any
	insertedAt time.Time
	ttl        time.Duration
}

// Store is a TTL keyed store. No capacity bound: callers control key
// cardinality.
type Store struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
}

// New creates a Store. A non-positive defaultTTL falls back to DefaultTTL.
func New(defaultTTL time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Store{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
	}
}

// Get returns the live value for key. An expired entry is removed and
// reported absent.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > e.ttl {
		delete(s.entries, key)
		return nil, false
	}
	return e.data, true
}

// Set inserts or replaces key with the default TTL.
func (s *Store) Set(key string, data any) {
	s.SetTTL(key, data, 0)
}

// SetTTL inserts or replaces key. A non-positive ttl uses the default.
func (s *Store) SetTTL(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{
		data:       data,
		insertedAt: time.Now(),
		ttl:        ttl,
	}
}

// Snapshot returns a consistent view of all live entries and removes
// expired ones along the way.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make(map[string]Entry, len(s.entries))
	for key, e := range s.entries {
		age := now.Sub(e.insertedAt)
		if age > e.ttl {
			delete(s.entries, key)
			continue
		}
		out[key] = Entry{
			Data:       e.data,
			AgeSeconds: age.Seconds(),
			TTL:        e.ttl.Seconds(),
		}
	}
	return out
}

// Stats counts total, valid and expired entries without removal.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	st := Stats{TotalEntries: len(s.entries)}
	for _, e := range s.entries {
		if now.Sub(e.insertedAt) <= e.ttl {
			st.ValidEntries++
		} else {
			st.ExpiredEntries++
		}
	}
	return st
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}
