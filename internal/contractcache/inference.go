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

// Inference domain defaults. Model responses go stale quickly in L1 but
// are worth keeping durable for a month by default.
const (
	DefaultInferenceL1TTL = 1 * time.Hour
	DefaultInferenceL2TTL = 30 * 24 * time.Hour
)

// InferenceCache caches model responses keyed by the digest of the
// prompt and input text concatenation, with the model identifier as
// variant.
type InferenceCache struct {
	tier
	store        InferenceStore
	l1TTL        time.Duration
	defaultL2TTL time.Duration
}

// InferenceCacheConfig holds InferenceCache construction parameters.
type InferenceCacheConfig struct {
	L1      *cache.MemoryStore
	Store   InferenceStore
	Breaker *resilience.CircuitBreaker
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer

	// L1TTL overrides DefaultInferenceL1TTL when positive
	L1TTL time.Duration
	// DefaultL2TTL overrides DefaultInferenceL2TTL when positive
	DefaultL2TTL time.Duration
}

// NewInferenceCache creates a model response cache.
func NewInferenceCache(cfg InferenceCacheConfig) (*InferenceCache, error) {
	if cfg.L1 == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("inference store is required")
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = DefaultInferenceL1TTL
	}
	if cfg.DefaultL2TTL <= 0 {
		cfg.DefaultL2TTL = DefaultInferenceL2TTL
	}

	return &InferenceCache{
		tier:         newTier(DomainInference, cfg.L1, cfg.Breaker, cfg.Logger, cfg.Metrics, cfg.Tracer),
		store:        cfg.Store,
		l1TTL:        cfg.L1TTL,
		defaultL2TTL: cfg.DefaultL2TTL,
	}, nil
}

// InferenceDigest returns the content digest for a (prompt, input) pair.
// Exposed so callers can invalidate without re-supplying the texts.
func InferenceDigest(prompt, input string) string {
	return DigestText(prompt + input)
}

// Get returns the cached response for (prompt, input, model). An expired
// durable record is deleted as a side effect and reported as a miss.
func (c *InferenceCache) Get(ctx context.Context, prompt, input, model string) (response string, ok bool, err error) {
	digest := InferenceDigest(prompt, input)
	key := inferenceKey(digest, model)

	if v, hit := c.l1Get(ctx, key); hit {
		return v.(string), true, nil
	}

	rec, err := durableLookup(ctx, &c.tier, func(ctx context.Context) (*InferenceRecord, error) {
		return c.store.Lookup(ctx, digest, model)
	})
	if errors.Is(err, ErrNotFound) {
		c.metrics.RecordCacheRequest(ctx, "l2", DomainInference, false)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("inference cache lookup: %w", err)
	}

	if expired(rec.ExpiresAt, time.Now()) {
		c.metrics.RecordCacheRequest(ctx, "l2", DomainInference, false)
		c.dropStale(ctx, func(ctx context.Context) error {
			return c.store.Delete(ctx, digest, model)
		})
		return "", false, nil
	}

	c.metrics.RecordCacheRequest(ctx, "l2", DomainInference, true)
	c.l1.Set(key, rec.Response, c.l1TTL)

	return rec.Response, true, nil
}

// Put caches a response in L1 under the fixed L1 TTL, then best-effort
// in the durable tier. l2TTL of zero or less uses the domain default.
func (c *InferenceCache) Put(ctx context.Context, prompt, input, model, response string, l2TTL time.Duration) {
	digest := InferenceDigest(prompt, input)
	c.l1.Set(inferenceKey(digest, model), response, c.l1TTL)

	if l2TTL <= 0 {
		l2TTL = c.defaultL2TTL
	}

	now := time.Now().UTC()
	expiresAt := now.Add(l2TTL)
	rec := InferenceRecord{
		Digest:    digest,
		Model:     model,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: &expiresAt,
	}

	c.durableWrite(ctx, func(ctx context.Context) error {
		return c.store.Upsert(ctx, rec)
	})
}

// Invalidate removes the entry for (digest, model) from both tiers.
func (c *InferenceCache) Invalidate(ctx context.Context, digest, model string) error {
	c.l1.Delete(inferenceKey(digest, model))

	if err := c.store.Delete(ctx, digest, model); err != nil {
		return fmt.Errorf("inference cache invalidate: %w", err)
	}
	return nil
}

// Clear removes all inference entries from the L1 prefix and the durable
// table.
func (c *InferenceCache) Clear(ctx context.Context) error {
	removed := c.l1.ClearPrefix(inferencePrefix)
	c.logger.LogDebug(ctx, "cleared inference L1 entries", "removed", removed)

	if err := c.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("inference cache clear: %w", err)
	}
	return nil
}
