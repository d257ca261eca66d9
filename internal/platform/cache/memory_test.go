package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestSetAndGet verifies basic store and retrieve
func TestSetAndGet(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("key-1", "value-1", time.Minute)

	val, ok := s.Get("key-1")
	if !ok {
		t.Fatal("Expected hit for stored key")
	}
	if val != "value-1" {
		t.Errorf("Expected %q, got %q", "value-1", val)
	}

	t.Log("✓ Set and Get round-trip works")
}

// TestGetMissingKey verifies a miss for an absent key
func TestGetMissingKey(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	if _, ok := s.Get("nonexistent"); ok {
		t.Error("Expected miss for absent key")
	}

	t.Log("✓ Absent key correctly reported as miss")
}

// TestLazyExpiry verifies expired entries are treated as misses and
// deleted on observation
func TestLazyExpiry(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("short-lived", "value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := s.Get("short-lived"); ok {
		t.Error("Expected miss for expired entry")
	}

	// Entry must be gone: Size after purge should be zero
	if size := s.Size(); size != 0 {
		t.Errorf("Expected 0 entries after expiry, got %d", size)
	}

	t.Log("✓ Expired entry treated as miss and deleted")
}

// TestZeroTTLNeverExpires verifies ttl <= 0 means no expiry
func TestZeroTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("forever", "value", 0)
	s.Set("forever-negative", "value", -time.Second)

	time.Sleep(10 * time.Millisecond)

	if _, ok := s.Get("forever"); !ok {
		t.Error("Expected entry with zero TTL to persist")
	}
	if _, ok := s.Get("forever-negative"); !ok {
		t.Error("Expected entry with negative TTL to persist")
	}

	t.Log("✓ Zero or negative TTL entries never expire")
}

// TestSetOverwrites verifies unconditional overwrite semantics
func TestSetOverwrites(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("key", "old", time.Minute)
	s.Set("key", "new", time.Minute)

	val, ok := s.Get("key")
	if !ok {
		t.Fatal("Expected hit after overwrite")
	}
	if val != "new" {
		t.Errorf("Expected %q, got %q", "new", val)
	}

	t.Log("✓ Set unconditionally overwrites")
}

// TestCountersPersistPastDeletion verifies per-key counters survive
// entry deletion and expiry
func TestCountersPersistPastDeletion(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("key", "value", time.Minute)
	s.Get("key") // hit
	s.Delete("key")
	s.Get("key") // miss

	stats := s.KeyStats("key")
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %v", stats.HitRate)
	}

	t.Log("✓ Counters persist past entry deletion")
}

// TestHasDoesNotTouchCounters verifies Has observes expiry but leaves
// counters alone
func TestHasDoesNotTouchCounters(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("key", "value", 10*time.Millisecond)

	if !s.Has("key") {
		t.Error("Expected Has to report live entry")
	}

	time.Sleep(20 * time.Millisecond)

	if s.Has("key") {
		t.Error("Expected Has to report expired entry as absent")
	}

	stats := s.KeyStats("key")
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Expected untouched counters, got hits=%d misses=%d", stats.Hits, stats.Misses)
	}

	t.Log("✓ Has observes expiry without touching counters")
}

// TestClearResetsCounters verifies Clear removes entries and counters
func TestClearResetsCounters(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("key", "value", time.Minute)
	s.Get("key")
	s.Get("missing")

	s.Clear()

	if size := s.Size(); size != 0 {
		t.Errorf("Expected empty store after Clear, got %d entries", size)
	}

	stats := s.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Expected zeroed counters after Clear, got hits=%d misses=%d", stats.Hits, stats.Misses)
	}

	t.Log("✓ Clear removes entries and resets counters")
}

// TestClearPrefix verifies prefix-scoped eviction leaves other
// prefixes alone
func TestClearPrefix(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("doc_fp:aaa", "parse", time.Minute)
	s.Set("doc_fp:bbb", "parse", time.Minute)
	s.Set("embed:ccc", "embedding", time.Minute)

	removed := s.ClearPrefix("doc_fp:")
	if removed != 2 {
		t.Errorf("Expected 2 entries removed, got %d", removed)
	}

	if _, ok := s.Get("doc_fp:aaa"); ok {
		t.Error("Expected prefix entries to be gone")
	}
	if _, ok := s.Get("embed:ccc"); !ok {
		t.Error("Expected other prefixes to survive")
	}

	t.Log("✓ ClearPrefix evicts only the targeted prefix")
}

// TestSizePurgesExpired verifies Size does not count stale entries
func TestSizePurgesExpired(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("live", "value", time.Minute)
	s.Set("stale", "value", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	if size := s.Size(); size != 1 {
		t.Errorf("Expected 1 live entry, got %d", size)
	}

	t.Log("✓ Size excludes expired entries")
}

// TestPurgeExpired verifies explicit purge reports removals
func TestPurgeExpired(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("stale-1", "value", 10*time.Millisecond)
	s.Set("stale-2", "value", 10*time.Millisecond)
	s.Set("live", "value", time.Minute)

	time.Sleep(20 * time.Millisecond)

	removed := s.PurgeExpired()
	if removed != 2 {
		t.Errorf("Expected 2 entries purged, got %d", removed)
	}

	t.Log("✓ PurgeExpired removes exactly the expired entries")
}

// TestAggregateStats verifies Stats sums across keys
func TestAggregateStats(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	s.Set("a", 1, time.Minute)
	s.Set("b", 2, time.Minute)

	s.Get("a") // hit
	s.Get("b") // hit
	s.Get("c") // miss

	stats := s.Stats()
	if stats.Hits != 2 {
		t.Errorf("Expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}

	want := 2.0 / 3.0
	if diff := stats.HitRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected hit rate %v, got %v", want, stats.HitRate)
	}

	t.Log("✓ Aggregate stats sum across keys")
}

// TestEmptyStatsHitRate verifies hit rate is zero with no traffic
func TestEmptyStatsHitRate(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	if rate := s.Stats().HitRate; rate != 0 {
		t.Errorf("Expected hit rate 0 with no traffic, got %v", rate)
	}

	t.Log("✓ Hit rate is zero with no traffic")
}

// TestJanitorEvictsExpired verifies the background sweep removes stale
// entries without reads
func TestJanitorEvictsExpired(t *testing.T) {
	s := NewMemoryStore(20 * time.Millisecond)
	defer s.Close()

	s.Set("stale", "value", 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("Janitor did not evict expired entry in time")
		case <-time.After(20 * time.Millisecond):
		}

		s.mu.Lock()
		_, exists := s.entries["stale"]
		s.mu.Unlock()
		if !exists {
			t.Log("✓ Janitor evicts expired entries")
			return
		}
	}
}

// TestConcurrentStoreAccess verifies thread safety
func TestConcurrentStoreAccess(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	var wg sync.WaitGroup
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%7)
				s.Set(key, id*1000+j, time.Minute)
				s.Get(key)
				s.Has(key)
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Size()
				s.Stats()
				s.PurgeExpired()
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Success
	case <-time.After(5 * time.Second):
		t.Error("Concurrent access test timed out - possible deadlock")
	}

	t.Log("✓ Concurrent access is thread-safe")
}
