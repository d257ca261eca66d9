package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clausehub/contract-cache/internal/contractcache"
	"github.com/clausehub/contract-cache/internal/notification"
	"github.com/clausehub/contract-cache/internal/persistence"
	"github.com/clausehub/contract-cache/internal/platform/aws"
	"github.com/clausehub/contract-cache/internal/platform/cache"
	"github.com/clausehub/contract-cache/internal/platform/config"
	"github.com/clausehub/contract-cache/internal/platform/observability"
	"github.com/clausehub/contract-cache/internal/platform/resilience"
)

// durableStore is the contract both backends satisfy.
type durableStore interface {
	Parse() contractcache.ParseStore
	Embeddings() contractcache.EmbeddingStore
	Inference() contractcache.InferenceStore
	SweepExpired(ctx context.Context) (map[string]int64, error)
	Close() error
}

// l1PurgeTask evicts expired in-process entries during maintenance rounds.
type l1PurgeTask struct {
	store *cache.MemoryStore
}

func (t *l1PurgeTask) Name() string { return "l1-purge-expired" }

func (t *l1PurgeTask) Run(ctx context.Context) (int, error) {
	return t.store.PurgeExpired(), nil
}

// durableSweepTask removes expired time-boxed durable rows.
type durableSweepTask struct {
	coordinator *contractcache.Coordinator
}

func (t *durableSweepTask) Name() string { return "durable-sweep-expired" }

func (t *durableSweepTask) Run(ctx context.Context) (int, error) {
	removed, err := t.coordinator.CleanExpired(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, n := range removed {
		total += n
	}
	return int(total), nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("Loading configuration...")
	cfg := config.MustLoad("config.yaml")

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("contract-cache", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "contract-cache", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	var appTracer observability.Tracer = observability.NewNoopTracer()
	if cfg.Observability.Tracing.Enabled {
		appTracer = observability.NewTracer("contract-cache")
	}

	logger.Info("observability setup complete")

	// Durable tier backend
	logger.Info("opening durable store...", "backend", cfg.Store.Backend)
	var store durableStore
	switch cfg.Store.Backend {
	case "redis":
		store, err = persistence.NewRedisStore(cfg.Store.Redis.Address, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
	default:
		store, err = persistence.OpenSQLite(cfg.Store.SQLite.Path)
	}
	if err != nil {
		logger.LogError(ctx, "failed to open durable store", err)
		log.Fatalf("Failed to open durable store: %v", err)
	}
	defer store.Close()

	// In-process tier
	memStore := cache.NewMemoryStore(cfg.Cache.L1SweepInterval)
	defer memStore.Close()

	// Degradation alert publisher
	var alerts notification.AlertPublisher = notification.NewNoOpPublisher(logger)
	if cfg.Alerts.Enabled {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{
			Region:   cfg.AWS.Region,
			Endpoint: cfg.AWS.Endpoint,
		})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}

		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
			Metrics:   metrics,
		})

		publisher, err := notification.NewPublisher(notification.PublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
			Metrics:   metrics,
			Tracer:    appTracer,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create alert publisher", err)
			log.Fatalf("Failed to create alert publisher: %v", err)
		}
		alerts = publisher
	}

	// One breaker guards the shared durable backend. State transitions
	// are the alerting signal; individual write failures stay absorbed.
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "durable-tier",
		FailureThreshold: cfg.Cache.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Cache.Breaker.SuccessThreshold,
		Timeout:          cfg.Cache.Breaker.Timeout,
		OnStateChange: func(from, to resilience.State) {
			logger.Info("durable tier circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetCircuitBreakerState(context.Background(), "durable-tier", int64(to))

			// Publish off the request path: the SNS client retries with
			// backoff and must not delay the cache call that tripped the
			// transition.
			go func() {
				alertCtx, alertCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer alertCancel()
				_ = alerts.PublishAlert(alertCtx, &notification.Alert{
					Kind:      notification.AlertKindBreakerStateChange,
					Component: "durable-tier",
					Detail:    fmt.Sprintf("circuit breaker moved from %s to %s", from, to),
					FromState: from.String(),
					ToState:   to.String(),
				})
			}()
		},
	})

	// Domain caches
	logger.Info("creating domain caches...")
	parseCache, err := contractcache.NewParseCache(contractcache.ParseCacheConfig{
		L1:           memStore,
		Store:        store.Parse(),
		Breaker:      breaker,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       appTracer,
		L1TTL:        cfg.Cache.Parse.L1TTL,
		DefaultL2TTL: cfg.Cache.Parse.L2TTL,
	})
	if err != nil {
		log.Fatalf("Failed to create parse cache: %v", err)
	}

	embeddingCache, err := contractcache.NewEmbeddingCache(contractcache.EmbeddingCacheConfig{
		L1:      memStore,
		Store:   store.Embeddings(),
		Breaker: breaker,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  appTracer,
		L1TTL:   cfg.Cache.Embedding.L1TTL,
	})
	if err != nil {
		log.Fatalf("Failed to create embedding cache: %v", err)
	}

	inferenceCache, err := contractcache.NewInferenceCache(contractcache.InferenceCacheConfig{
		L1:           memStore,
		Store:        store.Inference(),
		Breaker:      breaker,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       appTracer,
		L1TTL:        cfg.Cache.Inference.L1TTL,
		DefaultL2TTL: cfg.Cache.Inference.L2TTL,
	})
	if err != nil {
		log.Fatalf("Failed to create inference cache: %v", err)
	}

	coordinator, err := contractcache.NewCoordinator(contractcache.CoordinatorConfig{
		L1:         memStore,
		Parse:      parseCache,
		Embedding:  embeddingCache,
		Inference:  inferenceCache,
		ParseStore: store.Parse(),
		EmbedStore: store.Embeddings(),
		InferStore: store.Inference(),
		Sweeper:    store,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}

	// Background maintenance
	var maintainer *cache.Maintainer
	if cfg.Maintenance.Enabled {
		logger.Info("starting maintenance runner...",
			"interval", cfg.Maintenance.Interval,
			"workers", cfg.Maintenance.Workers,
		)
		maintainer = cache.NewMaintainer(logger, cache.MaintenanceConfig{
			Interval: cfg.Maintenance.Interval,
			Timeout:  cfg.Maintenance.Timeout,
			Workers:  cfg.Maintenance.Workers,
		})
		maintainer.Register(&l1PurgeTask{store: memStore})
		maintainer.Register(&durableSweepTask{coordinator: coordinator})
		maintainer.Start(ctx)
	}

	// HTTP server for stats, maintenance, health checks, and metrics
	logger.Info("starting HTTP server...")
	server := newHTTPServer(cfg.HTTP.Port, coordinator, metrics, logger)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogError(ctx, "HTTP server error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, gracefully stopping...")
	case <-ctx.Done():
		logger.Info("context cancelled, stopping...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if maintainer != nil {
		maintainer.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP server shutdown error", err)
	}

	logger.Info("application stopped")
}

// newHTTPServer builds the service's HTTP surface.
func newHTTPServer(port int, coordinator *contractcache.Coordinator, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := coordinator.Stats(r.Context())
		if err != nil {
			writeError(w, logger, r, "failed to gather stats", err)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("POST /maintenance/clean-expired", func(w http.ResponseWriter, r *http.Request) {
		removed, err := coordinator.CleanExpired(r.Context())
		if err != nil {
			writeError(w, logger, r, "failed to clean expired entries", err)
			return
		}
		writeJSON(w, map[string]interface{}{"removed": removed})
	})

	mux.HandleFunc("POST /maintenance/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := coordinator.ClearAll(r.Context()); err != nil {
			writeError(w, logger, r, "failed to clear cache", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	})

	mux.HandleFunc("POST /maintenance/clear/{domain}", func(w http.ResponseWriter, r *http.Request) {
		domain := r.PathValue("domain")
		if err := coordinator.ClearDomain(r.Context(), domain); err != nil {
			writeError(w, logger, r, "failed to clear domain", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared", "domain": domain})
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *observability.Logger, r *http.Request, msg string, err error) {
	logger.LogError(r.Context(), msg, err, "path", r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
