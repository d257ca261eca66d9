package contractcache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/clausehub/contract-cache/internal/platform/cache"
	"github.com/clausehub/contract-cache/internal/platform/observability"
	"github.com/clausehub/contract-cache/internal/platform/resilience"
)

// tier bundles the dependencies every domain cache shares: the
// in-process store, the circuit breaker guarding the durable tier, and
// observability. Domain caches own no locks of their own; concurrency
// safety is delegated to the in-process store and the durable store's
// own guarantees.
type tier struct {
	l1      *cache.MemoryStore
	breaker *resilience.CircuitBreaker
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
	domain  string
}

func newTier(domain string, l1 *cache.MemoryStore, breaker *resilience.CircuitBreaker,
	logger *observability.Logger, metrics *observability.Metrics, tracer observability.Tracer) tier {

	if logger == nil {
		logger = observability.NewLogger("info", "json")
	}
	if metrics == nil {
		metrics = &observability.Metrics{}
	}
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "durable-store",
		})
	}

	return tier{
		l1:      l1,
		breaker: breaker,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		domain:  domain,
	}
}

// l1Get probes the in-process tier and records the outcome.
func (t *tier) l1Get(ctx context.Context, key string) (interface{}, bool) {
	v, ok := t.l1.Get(key)
	t.metrics.RecordCacheRequest(ctx, "l1", t.domain, ok)
	return v, ok
}

// durableLookup runs a durable tier read through the circuit breaker
// with a span and call metrics. Errors are returned to the caller: a
// failed lookup cannot be distinguished from absence without risking
// false negatives that silently skip recomputation downstream.
//
// A clean miss is a healthy answer from the store. ErrNotFound is
// swallowed before the breaker records the outcome and re-mapped after,
// so a run of cold-cache misses can never open the circuit.
func durableLookup[T any](ctx context.Context, t *tier, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := t.tracer.StartSpan(ctx, t.domain+".durable.lookup",
		observability.WithAttributes(attribute.String("cache.domain", t.domain)))
	defer span.End()

	start := time.Now()
	var notFound bool
	rec, err := resilience.ExecuteWithResult(t.breaker, ctx, func(ctx context.Context) (T, error) {
		rec, err := fn(ctx)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return rec, nil
		}
		return rec, err
	})
	if err == nil && notFound {
		err = ErrNotFound
	}

	status := "success"
	switch {
	case notFound:
		status = "miss"
	case err != nil:
		status = "error"
		span.NoticeError(err)
	}
	t.metrics.RecordDurableCall(ctx, t.domain, "lookup", status, time.Since(start))

	return rec, err
}

// durableWrite runs a durable tier upsert through the circuit breaker.
// Failures are recorded and swallowed: the L1 write has already
// succeeded, so a durable failure must never fail the caller's request.
func (t *tier) durableWrite(ctx context.Context, fn func(context.Context) error) {
	ctx, span := t.tracer.StartSpan(ctx, t.domain+".durable.upsert",
		observability.WithAttributes(attribute.String("cache.domain", t.domain)))
	defer span.End()

	start := time.Now()
	err := t.breaker.Execute(ctx, fn)

	status := "success"
	if err != nil {
		status = "error"
		span.NoticeError(err)
		t.metrics.RecordDurableWriteFailure(ctx, t.domain)
		t.logger.LogWarn(ctx, "durable cache write failed",
			"domain", t.domain,
			"error", err,
		)
	}
	t.metrics.RecordDurableCall(ctx, t.domain, "upsert", status, time.Since(start))
}

// dropStale deletes an expired durable record observed on the read path.
// Best-effort: the record is already treated as a miss.
func (t *tier) dropStale(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		t.logger.LogDebug(ctx, "failed to delete expired durable record",
			"domain", t.domain,
			"error", err,
		)
	}
}

// expired reports whether a nullable durable expiry has passed.
func expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && now.After(*expiresAt)
}
