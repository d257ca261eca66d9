package contractcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clausehub/contract-cache/internal/platform/cache"
	"github.com/clausehub/contract-cache/internal/platform/observability"
	"github.com/clausehub/contract-cache/internal/platform/resilience"
)

// DefaultEmbeddingL1TTL is the fixed in-process lifetime of a cached
// vector. The durable tier carries no expiry for this domain.
const DefaultEmbeddingL1TTL = 7 * 24 * time.Hour

// EmbeddingCache caches embedding vectors keyed by the digest of the
// normalized input text, with the model identifier as variant: the same
// text embedded by two models is cached independently.
type EmbeddingCache struct {
	tier
	store EmbeddingStore
	l1TTL time.Duration
}

// EmbeddingCacheConfig holds EmbeddingCache construction parameters.
type EmbeddingCacheConfig struct {
	L1      *cache.MemoryStore
	Store   EmbeddingStore
	Breaker *resilience.CircuitBreaker
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer

	// L1TTL overrides DefaultEmbeddingL1TTL when positive
	L1TTL time.Duration
}

// NewEmbeddingCache creates an embedding vector cache.
func NewEmbeddingCache(cfg EmbeddingCacheConfig) (*EmbeddingCache, error) {
	if cfg.L1 == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("embedding store is required")
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = DefaultEmbeddingL1TTL
	}

	return &EmbeddingCache{
		tier:  newTier(DomainEmbedding, cfg.L1, cfg.Breaker, cfg.Logger, cfg.Metrics, cfg.Tracer),
		store: cfg.Store,
		l1TTL: cfg.L1TTL,
	}, nil
}

// Get returns the cached vector for (text, model). Callers are expected
// to pass text already normalized by the embedding service, so that
// byte-identical inputs map to the same digest.
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) (vec []float32, ok bool, err error) {
	digest := DigestText(text)
	key := embeddingKey(digest, model)

	if v, hit := c.l1Get(ctx, key); hit {
		return cloneVector(v.([]float32)), true, nil
	}

	rec, err := durableLookup(ctx, &c.tier, func(ctx context.Context) (*EmbeddingRecord, error) {
		return c.store.Lookup(ctx, digest, model)
	})
	if errors.Is(err, ErrNotFound) {
		c.metrics.RecordCacheRequest(ctx, "l2", DomainEmbedding, false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding cache lookup: %w", err)
	}

	c.metrics.RecordCacheRequest(ctx, "l2", DomainEmbedding, true)
	c.l1.Set(key, rec.Vector, c.l1TTL)

	return cloneVector(rec.Vector), true, nil
}

// cloneVector copies a vector. L1 holds its own copy and hands out
// copies, so a caller mutating a slice it passed to Put or got from Get
// cannot corrupt the cache.
func cloneVector(vec []float32) []float32 {
	return append([]float32(nil), vec...)
}

// Put caches a vector in L1 and, best-effort, in the durable tier. The
// durable record never expires: regenerating an embedding costs far more
// than storing it, so retention is indefinite until explicit cleanup.
func (c *EmbeddingCache) Put(ctx context.Context, text, model string, vec []float32) {
	digest := DigestText(text)
	c.l1.Set(embeddingKey(digest, model), cloneVector(vec), c.l1TTL)

	rec := EmbeddingRecord{
		Digest:    digest,
		Model:     model,
		Vector:    vec,
		CreatedAt: time.Now().UTC(),
	}

	c.durableWrite(ctx, func(ctx context.Context) error {
		return c.store.Upsert(ctx, rec)
	})
}

// Invalidate removes the entry for (digest, model) from both tiers.
func (c *EmbeddingCache) Invalidate(ctx context.Context, digest, model string) error {
	c.l1.Delete(embeddingKey(digest, model))

	if err := c.store.Delete(ctx, digest, model); err != nil {
		return fmt.Errorf("embedding cache invalidate: %w", err)
	}
	return nil
}

// Clear removes all embedding entries from the L1 prefix and the durable
// table.
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	removed := c.l1.ClearPrefix(embeddingPrefix)
	c.logger.LogDebug(ctx, "cleared embedding L1 entries", "removed", removed)

	if err := c.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("embedding cache clear: %w", err)
	}
	return nil
}
