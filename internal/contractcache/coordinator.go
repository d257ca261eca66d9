package contractcache

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/clausehub/contract-cache/internal/platform/cache"
	"github.com/clausehub/contract-cache/internal/platform/observability"
)

// hitRatePrecision is the number of decimal places hit rates are rounded
// to for presentation stability.
const hitRatePrecision = 4

// TierStats describes the in-process tier.
type TierStats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// DurableStats describes the content-addressed durable tier (parse
// results and embeddings).
type DurableStats struct {
	Count int64 `json:"count"`
}

// InferenceStats describes the time-boxed model response tier.
type InferenceStats struct {
	Count        int64 `json:"count"`
	ExpiredCount int64 `json:"expiredCount"`
}

// Stats is the whole-system cache snapshot.
type Stats struct {
	L1 TierStats      `json:"l1"`
	L2 DurableStats   `json:"l2"`
	L3 InferenceStats `json:"l3"`
}

// Coordinator is a facade providing whole-system observability and
// maintenance across the domain caches. It owns no cache state itself.
type Coordinator struct {
	l1        *cache.MemoryStore
	parse     *ParseCache
	embedding *EmbeddingCache
	inference *InferenceCache

	parseStore ParseStore
	embedStore EmbeddingStore
	inferStore InferenceStore
	sweeper    Sweeper

	logger  *observability.Logger
	metrics *observability.Metrics
}

// CoordinatorConfig holds Coordinator construction parameters.
type CoordinatorConfig struct {
	L1        *cache.MemoryStore
	Parse     *ParseCache
	Embedding *EmbeddingCache
	Inference *InferenceCache

	ParseStore ParseStore
	EmbedStore EmbeddingStore
	InferStore InferenceStore
	Sweeper    Sweeper

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewCoordinator creates the cache coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.L1 == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Parse == nil || cfg.Embedding == nil || cfg.Inference == nil {
		return nil, fmt.Errorf("all three domain caches are required")
	}
	if cfg.ParseStore == nil || cfg.EmbedStore == nil || cfg.InferStore == nil || cfg.Sweeper == nil {
		return nil, fmt.Errorf("durable stores and sweeper are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("info", "json")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &observability.Metrics{}
	}

	return &Coordinator{
		l1:         cfg.L1,
		parse:      cfg.Parse,
		embedding:  cfg.Embedding,
		inference:  cfg.Inference,
		parseStore: cfg.ParseStore,
		embedStore: cfg.EmbedStore,
		inferStore: cfg.InferStore,
		sweeper:    cfg.Sweeper,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Stats gathers counters from the in-process tier and row counts from
// the durable stores. Store counts are fetched concurrently; any store
// error fails the whole snapshot.
func (c *Coordinator) Stats(ctx context.Context) (*Stats, error) {
	l1Stats := c.l1.Stats()
	stats := &Stats{
		L1: TierStats{
			Size:    c.l1.Size(),
			Hits:    l1Stats.Hits,
			Misses:  l1Stats.Misses,
			HitRate: roundRate(l1Stats.HitRate),
		},
	}

	var parseCount, embedCount, inferCount, inferExpired int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := c.parseStore.Count(gctx)
		parseCount = n
		return err
	})
	g.Go(func() error {
		n, err := c.embedStore.Count(gctx)
		embedCount = n
		return err
	})
	g.Go(func() error {
		n, err := c.inferStore.Count(gctx)
		inferCount = n
		return err
	})
	g.Go(func() error {
		n, err := c.inferStore.CountExpired(gctx)
		inferExpired = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gather cache stats: %w", err)
	}

	stats.L2 = DurableStats{Count: parseCount + embedCount}
	stats.L3 = InferenceStats{Count: inferCount, ExpiredCount: inferExpired}

	c.metrics.SetL1Entries(ctx, int64(stats.L1.Size))

	return stats, nil
}

// ClearAll clears the in-process tier entirely (all domains, counters
// included) and deletes the parse domain's durable rows. Embedding and
// inference durable rows survive: their retention is meant to outlast
// routine cache resets.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.l1.Clear()

	if err := c.parseStore.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear parse durable rows: %w", err)
	}

	c.logger.LogInfo(ctx, "cache cleared",
		"durable_cleared", DomainParse,
	)
	return nil
}

// ClearDomain clears a single domain cache: its L1 prefix plus its
// durable rows. Other domains sharing the L1 instance are unaffected.
func (c *Coordinator) ClearDomain(ctx context.Context, domain string) error {
	switch domain {
	case DomainParse:
		return c.parse.Clear(ctx)
	case DomainEmbedding:
		return c.embedding.Clear(ctx)
	case DomainInference:
		return c.inference.Clear(ctx)
	default:
		return fmt.Errorf("unknown cache domain: %q", domain)
	}
}

// CleanExpired sweeps time-boxed durable records across all domains and
// reports how many were removed per domain.
func (c *Coordinator) CleanExpired(ctx context.Context) (map[string]int64, error) {
	removed, err := c.sweeper.SweepExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep expired durable records: %w", err)
	}

	for domain, n := range removed {
		c.metrics.RecordSweepRemoved(ctx, "l2", domain, n)
	}
	c.logger.LogInfo(ctx, "swept expired durable records", "removed", removed)

	return removed, nil
}

// roundRate rounds a hit rate to the presentation precision.
func roundRate(rate float64) float64 {
	pow := math.Pow(10, hitRatePrecision)
	return math.Round(rate*pow) / pow
}
