package contractcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clausehub/contract-cache/internal/platform/cache"
)

// mockSweeper reports canned sweep results
type mockSweeper struct {
	mu      sync.Mutex
	removed map[string]int64
	err     error
	calls   int
}

func (m *mockSweeper) SweepExpired(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.removed, nil
}

type coordinatorFixture struct {
	coordinator *Coordinator
	l1          *cache.MemoryStore
	parse       *ParseCache
	parseStore  *mockParseStore
	embedStore  *mockEmbeddingStore
	inferStore  *mockInferenceStore
	embedding   *EmbeddingCache
	inference   *InferenceCache
	sweeper     *mockSweeper
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	l1 := cache.NewMemoryStore(0)
	t.Cleanup(l1.Close)

	parseStore := newMockParseStore()
	embedStore := newMockEmbeddingStore()
	inferStore := newMockInferenceStore()
	sweeper := &mockSweeper{removed: map[string]int64{
		DomainParse:     0,
		DomainEmbedding: 0,
		DomainInference: 0,
	}}

	pc, err := NewParseCache(ParseCacheConfig{L1: l1, Store: parseStore})
	if err != nil {
		t.Fatalf("Failed to create parse cache: %v", err)
	}
	ec, err := NewEmbeddingCache(EmbeddingCacheConfig{L1: l1, Store: embedStore})
	if err != nil {
		t.Fatalf("Failed to create embedding cache: %v", err)
	}
	ic, err := NewInferenceCache(InferenceCacheConfig{L1: l1, Store: inferStore})
	if err != nil {
		t.Fatalf("Failed to create inference cache: %v", err)
	}

	coord, err := NewCoordinator(CoordinatorConfig{
		L1:         l1,
		Parse:      pc,
		Embedding:  ec,
		Inference:  ic,
		ParseStore: parseStore,
		EmbedStore: embedStore,
		InferStore: inferStore,
		Sweeper:    sweeper,
	})
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	return &coordinatorFixture{
		coordinator: coord,
		l1:          l1,
		parse:       pc,
		parseStore:  parseStore,
		embedStore:  embedStore,
		inferStore:  inferStore,
		embedding:   ec,
		inference:   ic,
		sweeper:     sweeper,
	}
}

// TestStatsAggregatesTiers verifies the snapshot maps durable counts to
// the right tiers
func TestStatsAggregatesTiers(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	f.parse.Put(ctx, []byte("doc-1"), sampleParseResult(), 0)
	f.parse.Put(ctx, []byte("doc-2"), sampleParseResult(), 0)
	f.embedding.Put(ctx, "clause", "m", []float32{1})
	f.inference.Put(ctx, "p:", "in", "m", "answer", 0)

	// Generate some L1 traffic: two hits and a miss
	f.parse.Get(ctx, []byte("doc-1"))
	f.parse.Get(ctx, []byte("doc-2"))
	f.inference.Get(ctx, "p:", "unseen", "m")

	stats, err := f.coordinator.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	// L2 count is parse rows plus embedding rows
	if stats.L2.Count != 3 {
		t.Errorf("Expected L2 count 3, got %d", stats.L2.Count)
	}
	if stats.L3.Count != 1 {
		t.Errorf("Expected L3 count 1, got %d", stats.L3.Count)
	}
	if stats.L3.ExpiredCount != 0 {
		t.Errorf("Expected no expired inference rows, got %d", stats.L3.ExpiredCount)
	}

	if stats.L1.Hits != 2 {
		t.Errorf("Expected 2 L1 hits, got %d", stats.L1.Hits)
	}
	// The unseen inference read misses L1 and then L2; only the L1 probe
	// counts toward L1 stats
	if stats.L1.Misses != 1 {
		t.Errorf("Expected 1 L1 miss, got %d", stats.L1.Misses)
	}

	want := 2.0 / 3.0
	if stats.L1.HitRate < want-0.001 || stats.L1.HitRate > want+0.001 {
		t.Errorf("Expected hit rate ~%.4f, got %v", want, stats.L1.HitRate)
	}

	t.Log("✓ Stats aggregates all tiers correctly")
}

// TestStatsHitRateRounding verifies presentation rounding to four decimals
func TestStatsHitRateRounding(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	// 1 hit, 2 misses: rate 1/3 = 0.3333...
	f.parse.Put(ctx, []byte("doc"), sampleParseResult(), 0)
	f.parse.Get(ctx, []byte("doc"))
	f.parse.Get(ctx, []byte("missing-1"))
	f.parse.Get(ctx, []byte("missing-2"))

	stats, err := f.coordinator.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.L1.HitRate != 0.3333 {
		t.Errorf("Expected hit rate rounded to 0.3333, got %v", stats.L1.HitRate)
	}

	t.Log("✓ Hit rate is rounded to four decimal places")
}

// TestStatsStoreErrorFailsSnapshot verifies any store failure fails the
// whole snapshot
func TestStatsStoreErrorFailsSnapshot(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.parseStore.countErr = errors.New("database locked")

	if _, err := f.coordinator.Stats(context.Background()); err == nil {
		t.Fatal("Expected Stats to fail when a store count fails")
	}

	t.Log("✓ Store failures fail the whole stats snapshot")
}

// TestCleanExpiredSurfacesSweeperError verifies sweep failures propagate
func TestCleanExpiredSurfacesSweeperError(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.sweeper.err = errors.New("sweep failed")

	if _, err := f.coordinator.CleanExpired(context.Background()); err == nil {
		t.Fatal("Expected CleanExpired to surface sweeper error")
	}

	t.Log("✓ Sweeper errors surface to the caller")
}

// TestClearAllScopesDurableDeletion verifies ClearAll wipes L1 and parse
// durable rows only
func TestClearAllScopesDurableDeletion(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	f.parse.Put(ctx, []byte("doc"), sampleParseResult(), 0)
	f.embedding.Put(ctx, "clause", "m", []float32{1})
	f.inference.Put(ctx, "p:", "in", "m", "answer", 0)

	if err := f.coordinator.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	if size := f.l1.Size(); size != 0 {
		t.Errorf("Expected empty L1, got %d entries", size)
	}
	if n, _ := f.parseStore.Count(ctx); n != 0 {
		t.Errorf("Expected parse durable rows cleared, got %d", n)
	}
	if n, _ := f.embedStore.Count(ctx); n != 1 {
		t.Errorf("Expected embedding durable rows to survive, got %d", n)
	}
	if n, _ := f.inferStore.Count(ctx); n != 1 {
		t.Errorf("Expected inference durable rows to survive, got %d", n)
	}

	// Counters reset with the L1 clear
	if stats := f.l1.Stats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Expected counters reset, got hits=%d misses=%d", stats.Hits, stats.Misses)
	}

	t.Log("✓ ClearAll wipes L1 but only parse durable rows")
}

// TestClearDomain verifies per-domain clearing and unknown domain rejection
func TestClearDomain(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	f.parse.Put(ctx, []byte("doc"), sampleParseResult(), 0)
	f.embedding.Put(ctx, "clause", "m", []float32{1})

	if err := f.coordinator.ClearDomain(ctx, DomainEmbedding); err != nil {
		t.Fatalf("ClearDomain failed: %v", err)
	}

	if n, _ := f.embedStore.Count(ctx); n != 0 {
		t.Errorf("Expected embedding rows cleared, got %d", n)
	}
	if n, _ := f.parseStore.Count(ctx); n != 1 {
		t.Errorf("Expected parse rows untouched, got %d", n)
	}

	if err := f.coordinator.ClearDomain(ctx, "bogus"); err == nil {
		t.Error("Expected error for unknown domain")
	}

	t.Log("✓ ClearDomain clears one domain and rejects unknown names")
}

// TestCleanExpiredReportsPerDomain verifies sweep results pass through
func TestCleanExpiredReportsPerDomain(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.sweeper.removed = map[string]int64{
		DomainParse:     4,
		DomainEmbedding: 0,
		DomainInference: 9,
	}

	removed, err := f.coordinator.CleanExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanExpired failed: %v", err)
	}

	if removed[DomainParse] != 4 || removed[DomainInference] != 9 {
		t.Errorf("Unexpected sweep report: %v", removed)
	}
	if f.sweeper.calls != 1 {
		t.Errorf("Expected 1 sweep call, got %d", f.sweeper.calls)
	}

	t.Log("✓ CleanExpired reports per-domain removals")
}

// TestStatsCountsExpiredInference verifies expired rows show up in the
// L3 expired count until swept
func TestStatsCountsExpiredInference(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	digest := InferenceDigest("p:", "in")
	stale := time.Now().UTC().Add(-time.Minute)
	f.inferStore.records[inferenceRecordKey(digest, "m")] = InferenceRecord{
		Digest:    digest,
		Model:     "m",
		Response:  "old",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		ExpiresAt: &stale,
	}

	stats, err := f.coordinator.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.L3.Count != 1 {
		t.Errorf("Expected 1 inference row, got %d", stats.L3.Count)
	}
	if stats.L3.ExpiredCount != 1 {
		t.Errorf("Expected 1 expired inference row, got %d", stats.L3.ExpiredCount)
	}

	t.Log("✓ Expired inference rows are counted until swept")
}
