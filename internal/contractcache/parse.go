package contractcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clausehub/contract-cache/internal/platform/cache"
	"github.com/clausehub/contract-cache/internal/platform/observability"
	"github.com/clausehub/contract-cache/internal/platform/resilience"
)

// Parse domain defaults. The L1 TTL is fixed at construction, never per
// call; the L2 TTL is caller-suppliable on Put.
const (
	DefaultParseL1TTL = 24 * time.Hour
	DefaultParseL2TTL = 7 * 24 * time.Hour
)

// ParseResult is a cached document parse with its extraction metadata.
// ParsedAt is carried through L1 as written; on backfill from the
// durable tier it is reconstructed from the record's creation time.
type ParseResult struct {
	Fields       json.RawMessage `json:"fields"`
	Strategy     string          `json:"strategy"`
	Completeness float64         `json:"completeness"`
	Warnings     []string        `json:"warnings"`
	ParsedAt     time.Time       `json:"parsedAt"`
}

// ParseCache caches document parse results keyed by the digest of the
// raw document bytes.
type ParseCache struct {
	tier
	store        ParseStore
	l1TTL        time.Duration
	defaultL2TTL time.Duration
}

// ParseCacheConfig holds ParseCache construction parameters.
type ParseCacheConfig struct {
	L1      *cache.MemoryStore
	Store   ParseStore
	Breaker *resilience.CircuitBreaker
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer

	// L1TTL overrides DefaultParseL1TTL when positive
	L1TTL time.Duration
	// DefaultL2TTL overrides DefaultParseL2TTL when positive
	DefaultL2TTL time.Duration
}

// NewParseCache creates a parse result cache.
func NewParseCache(cfg ParseCacheConfig) (*ParseCache, error) {
	if cfg.L1 == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("parse store is required")
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = DefaultParseL1TTL
	}
	if cfg.DefaultL2TTL <= 0 {
		cfg.DefaultL2TTL = DefaultParseL2TTL
	}

	return &ParseCache{
		tier:         newTier(DomainParse, cfg.L1, cfg.Breaker, cfg.Logger, cfg.Metrics, cfg.Tracer),
		store:        cfg.Store,
		l1TTL:        cfg.L1TTL,
		defaultL2TTL: cfg.DefaultL2TTL,
	}, nil
}

// Get returns the cached parse for a document, reading through to the
// durable tier on an L1 miss and backfilling L1 on a durable hit. ok is
// false on a clean miss; err is non-nil only when the durable tier
// itself failed, in which case callers should treat the result as a
// miss and fall through to re-parsing.
func (c *ParseCache) Get(ctx context.Context, doc []byte) (res *ParseResult, ok bool, err error) {
	digest := Digest(doc)
	key := parseKey(digest)

	if v, hit := c.l1Get(ctx, key); hit {
		return cloneParseResult(v.(*ParseResult)), true, nil
	}

	rec, err := durableLookup(ctx, &c.tier, func(ctx context.Context) (*ParseRecord, error) {
		return c.store.Lookup(ctx, digest)
	})
	if errors.Is(err, ErrNotFound) {
		c.metrics.RecordCacheRequest(ctx, "l2", DomainParse, false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("parse cache lookup: %w", err)
	}

	if expired(rec.ExpiresAt, time.Now()) {
		c.metrics.RecordCacheRequest(ctx, "l2", DomainParse, false)
		c.dropStale(ctx, func(ctx context.Context) error {
			return c.store.Delete(ctx, digest)
		})
		return nil, false, nil
	}

	c.metrics.RecordCacheRequest(ctx, "l2", DomainParse, true)

	res = &ParseResult{
		Fields:       rec.Fields,
		Strategy:     rec.Strategy,
		Completeness: rec.Completeness,
		Warnings:     rec.Warnings,
		ParsedAt:     rec.CreatedAt,
	}
	c.l1.Set(key, res, c.l1TTL)

	return cloneParseResult(res), true, nil
}

// Put caches a parse result: synchronously in L1 under the fixed L1 TTL,
// then best-effort in the durable tier. l2TTL of zero or less uses the
// domain default. Durable failures are logged and absorbed, never
// surfaced; the value remains readable from L1 for its L1 lifetime.
func (c *ParseCache) Put(ctx context.Context, doc []byte, res *ParseResult, l2TTL time.Duration) {
	digest := Digest(doc)
	c.l1.Set(parseKey(digest), cloneParseResult(res), c.l1TTL)

	if l2TTL <= 0 {
		l2TTL = c.defaultL2TTL
	}

	now := time.Now().UTC()
	expiresAt := now.Add(l2TTL)
	rec := ParseRecord{
		Digest:       digest,
		Fields:       res.Fields,
		Strategy:     res.Strategy,
		Completeness: res.Completeness,
		Warnings:     res.Warnings,
		CreatedAt:    now,
		ExpiresAt:    &expiresAt,
	}

	c.durableWrite(ctx, func(ctx context.Context) error {
		return c.store.Upsert(ctx, rec)
	})
}

// cloneParseResult copies a result, including its slice-backed fields.
// L1 holds its own copy and hands out copies, so a caller mutating a
// value it passed to Put or got from Get cannot corrupt the cache.
func cloneParseResult(res *ParseResult) *ParseResult {
	cp := *res
	cp.Fields = append(json.RawMessage(nil), res.Fields...)
	cp.Warnings = append([]string(nil), res.Warnings...)
	return &cp
}

// Invalidate removes the entry for a digest from both tiers.
func (c *ParseCache) Invalidate(ctx context.Context, digest string) error {
	c.l1.Delete(parseKey(digest))

	if err := c.store.Delete(ctx, digest); err != nil {
		return fmt.Errorf("parse cache invalidate: %w", err)
	}
	return nil
}

// Clear removes all parse entries from the L1 prefix and the durable
// table. Other domains sharing the L1 instance are unaffected.
func (c *ParseCache) Clear(ctx context.Context) error {
	removed := c.l1.ClearPrefix(parsePrefix)
	c.logger.LogDebug(ctx, "cleared parse L1 entries", "removed", removed)

	if err := c.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("parse cache clear: %w", err)
	}
	return nil
}
