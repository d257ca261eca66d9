// Package cache provides the in-process cache tier and its maintenance
// machinery.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the background janitor evicts
// expired entries when no interval is configured.
const DefaultSweepInterval = 1 * time.Hour

// entry is a stored value with its optional expiry.
// A zero expiresAt means the entry never expires in this tier.
type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// counters holds hit/miss counts for a single key. Counters outlive the
// entry itself: they persist after expiry or deletion, until Clear.
type counters struct {
	hits   uint64
	misses uint64
}

// Stats is a snapshot of hit/miss counters.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func newStats(hits, misses uint64) Stats {
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// MemoryStore is a process-local key/value cache with per-entry TTL,
// per-key hit/miss counters, and prefix-scoped bulk eviction.
//
// All operations are non-blocking and cannot fail; a single mutex guards
// the maps. Expiry is lazy (observed on Get/Has/Size) with an optional
// background janitor layered on top.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]entry
	counters map[string]*counters

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a MemoryStore. A positive sweepInterval starts a
// background janitor evicting expired entries at that cadence; zero or
// negative disables it (lazy expiry alone is sufficient for correctness,
// so tests typically pass 0).
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries:  make(map[string]entry),
		counters: make(map[string]*counters),
		stopCh:   make(chan struct{}),
	}

	if sweepInterval > 0 {
		go s.janitor(sweepInterval)
	}

	return s
}

// Get returns the value stored under key. An absent or expired entry is a
// miss; an expired entry is deleted as a side effect. Every call updates
// the key's hit/miss counters.
func (s *MemoryStore) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && e.expired(time.Now()) {
		delete(s.entries, key)
		ok = false
	}

	c := s.countersFor(key)
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// Set unconditionally overwrites any existing entry. A ttl of zero or
// less means the entry never expires in this tier. Counters are not
// touched.
func (s *MemoryStore) Set(key string, value interface{}, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{value: value, expiresAt: expiresAt}
}

// Delete removes an entry if present.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// Has reports whether a live entry exists under key. Like Get it deletes
// an expired entry on observation, but it does not touch the hit/miss
// counters.
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && e.expired(time.Now()) {
		delete(s.entries, key)
		return false
	}

	return ok
}

// Size returns the count of live entries, sweeping expired ones first so
// the count is not inflated by stale data.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	return len(s.entries)
}

// ClearPrefix deletes every entry whose key starts with prefix and
// returns the number removed. Entries under other prefixes are untouched.
func (s *MemoryStore) ClearPrefix(prefix string) int {
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

// Clear removes all entries and resets all hit/miss counters.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]entry)
	s.counters = make(map[string]*counters)
}

// KeyStats returns the hit/miss counters for a single key. Counters
// persist independently of entry lifetime, so a key whose entry has since
// expired still reports its history.
func (s *MemoryStore) KeyStats(key string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return Stats{}
	}
	return newStats(c.hits, c.misses)
}

// Stats returns counters summed across all keys observed so far.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits, misses uint64
	for _, c := range s.counters {
		hits += c.hits
		misses += c.misses
	}
	return newStats(hits, misses)
}

// PurgeExpired evicts all expired entries and returns the number removed.
// This is the same predicate the lazy path uses; the janitor calls it
// periodically to bound memory growth from keys nobody re-reads.
func (s *MemoryStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.purgeExpiredLocked(time.Now())
}

// Close stops the background janitor. The store remains usable.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// countersFor returns the counters for key, creating them on first use.
// Caller must hold the lock.
func (s *MemoryStore) countersFor(key string) *counters {
	c, ok := s.counters[key]
	if !ok {
		c = &counters{}
		s.counters[key] = c
	}
	return c
}

// purgeExpiredLocked removes expired entries. Caller must hold the lock.
func (s *MemoryStore) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// janitor periodically evicts expired entries until Close is called.
func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.PurgeExpired()
		case <-s.stopCh:
			return
		}
	}
}
