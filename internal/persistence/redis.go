package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clausehub/contract-cache/internal/contractcache"
)

// Redis key prefixes, one namespace per domain table.
const (
	redisParsePrefix     = "cc:parse:"
	redisEmbeddingPrefix = "cc:embed:"
	redisInferencePrefix = "cc:llm:"

	redisScanBatch = 500
)

// RedisStore is a Redis-backed durable tier for shared deployments.
// Records are stored as JSON under per-domain key namespaces; time-boxed
// domains use Redis native expiry, so SweepExpired reports zero and
// eviction happens inside Redis rather than in an explicit sweep.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Parse returns the parse result namespace.
func (s *RedisStore) Parse() contractcache.ParseStore {
	return &redisParseStore{client: s.client}
}

// Embeddings returns the embedding namespace.
func (s *RedisStore) Embeddings() contractcache.EmbeddingStore {
	return &redisEmbeddingStore{client: s.client}
}

// Inference returns the inference result namespace.
func (s *RedisStore) Inference() contractcache.InferenceStore {
	return &redisInferenceStore{client: s.client}
}

// SweepExpired reports zero for every domain: Redis evicts time-boxed
// records natively through per-key TTLs.
func (s *RedisStore) SweepExpired(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{
		contractcache.DomainParse:     0,
		contractcache.DomainEmbedding: 0,
		contractcache.DomainInference: 0,
	}, nil
}

// redisParseRecord is the JSON wire shape of a parse record.
type redisParseRecord struct {
	Digest       string          `json:"digest"`
	Fields       json.RawMessage `json:"fields"`
	Strategy     string          `json:"strategy"`
	Completeness float64         `json:"completeness"`
	Warnings     []string        `json:"warnings"`
	CreatedAt    time.Time       `json:"createdAt"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
}

type redisParseStore struct {
	client *redis.Client
}

func (r *redisParseStore) Upsert(ctx context.Context, rec contractcache.ParseRecord) error {
	data, err := json.Marshal(redisParseRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal parse record: %w", err)
	}
	return redisSet(ctx, r.client, redisParsePrefix+rec.Digest, data, rec.ExpiresAt)
}

func (r *redisParseStore) Lookup(ctx context.Context, digest string) (*contractcache.ParseRecord, error) {
	data, err := redisGet(ctx, r.client, redisParsePrefix+digest)
	if err != nil {
		return nil, err
	}

	var wire redisParseRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		// A record that no longer decodes is useless; drop it and
		// report a miss so the caller recomputes.
		_ = redisDel(ctx, r.client, redisParsePrefix+digest)
		return nil, contractcache.ErrNotFound
	}
	rec := contractcache.ParseRecord(wire)
	return &rec, nil
}

func (r *redisParseStore) Delete(ctx context.Context, digest string) error {
	return redisDel(ctx, r.client, redisParsePrefix+digest)
}

func (r *redisParseStore) DeleteAll(ctx context.Context) error {
	return redisDelPrefix(ctx, r.client, redisParsePrefix)
}

func (r *redisParseStore) Count(ctx context.Context) (int64, error) {
	return redisCountPrefix(ctx, r.client, redisParsePrefix)
}

// redisEmbeddingRecord is the JSON wire shape of an embedding record.
type redisEmbeddingRecord struct {
	Digest    string    `json:"digest"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"createdAt"`
}

type redisEmbeddingStore struct {
	client *redis.Client
}

func (r *redisEmbeddingStore) Upsert(ctx context.Context, rec contractcache.EmbeddingRecord) error {
	data, err := json.Marshal(redisEmbeddingRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal embedding record: %w", err)
	}
	// No expiry: embeddings persist until explicit cleanup.
	return redisSet(ctx, r.client, redisEmbeddingPrefix+rec.Digest+":"+rec.Model, data, nil)
}

func (r *redisEmbeddingStore) Lookup(ctx context.Context, digest, model string) (*contractcache.EmbeddingRecord, error) {
	data, err := redisGet(ctx, r.client, redisEmbeddingPrefix+digest+":"+model)
	if err != nil {
		return nil, err
	}

	var wire redisEmbeddingRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		_ = redisDel(ctx, r.client, redisEmbeddingPrefix+digest+":"+model)
		return nil, contractcache.ErrNotFound
	}
	rec := contractcache.EmbeddingRecord(wire)
	return &rec, nil
}

func (r *redisEmbeddingStore) Delete(ctx context.Context, digest, model string) error {
	return redisDel(ctx, r.client, redisEmbeddingPrefix+digest+":"+model)
}

func (r *redisEmbeddingStore) DeleteAll(ctx context.Context) error {
	return redisDelPrefix(ctx, r.client, redisEmbeddingPrefix)
}

func (r *redisEmbeddingStore) Count(ctx context.Context) (int64, error) {
	return redisCountPrefix(ctx, r.client, redisEmbeddingPrefix)
}

// redisInferenceRecord is the JSON wire shape of an inference record.
type redisInferenceRecord struct {
	Digest    string     `json:"digest"`
	Model     string     `json:"model"`
	Response  string     `json:"response"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type redisInferenceStore struct {
	client *redis.Client
}

func (r *redisInferenceStore) Upsert(ctx context.Context, rec contractcache.InferenceRecord) error {
	data, err := json.Marshal(redisInferenceRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal inference record: %w", err)
	}
	return redisSet(ctx, r.client, redisInferencePrefix+rec.Digest+":"+rec.Model, data, rec.ExpiresAt)
}

func (r *redisInferenceStore) Lookup(ctx context.Context, digest, model string) (*contractcache.InferenceRecord, error) {
	data, err := redisGet(ctx, r.client, redisInferencePrefix+digest+":"+model)
	if err != nil {
		return nil, err
	}

	var wire redisInferenceRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		_ = redisDel(ctx, r.client, redisInferencePrefix+digest+":"+model)
		return nil, contractcache.ErrNotFound
	}
	rec := contractcache.InferenceRecord(wire)
	return &rec, nil
}

func (r *redisInferenceStore) Delete(ctx context.Context, digest, model string) error {
	return redisDel(ctx, r.client, redisInferencePrefix+digest+":"+model)
}

func (r *redisInferenceStore) DeleteAll(ctx context.Context) error {
	return redisDelPrefix(ctx, r.client, redisInferencePrefix)
}

func (r *redisInferenceStore) Count(ctx context.Context) (int64, error) {
	return redisCountPrefix(ctx, r.client, redisInferencePrefix)
}

func (r *redisInferenceStore) CountExpired(ctx context.Context) (int64, error) {
	// Native TTLs mean expired records are already gone.
	return 0, nil
}

// --- shared helpers ---

func redisSet(ctx context.Context, client *redis.Client, key string, data []byte, expiresAt *time.Time) error {
	var ttl time.Duration
	if expiresAt != nil {
		ttl = time.Until(*expiresAt)
		if ttl <= 0 {
			// Already expired, nothing worth storing.
			return nil
		}
	}

	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func redisGet(ctx context.Context, client *redis.Client, key string) ([]byte, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, contractcache.ErrNotFound
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return data, nil
}

func redisDel(ctx context.Context, client *redis.Client, key string) error {
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

func redisDelPrefix(ctx context.Context, client *redis.Client, prefix string) error {
	iter := client.Scan(ctx, 0, prefix+"*", redisScanBatch).Iterator()

	batch := make([]string, 0, redisScanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisScanBatch {
			if err := client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis bulk delete error: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan error: %w", err)
	}

	if len(batch) > 0 {
		if err := client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis bulk delete error: %w", err)
		}
	}
	return nil
}

func redisCountPrefix(ctx context.Context, client *redis.Client, prefix string) (int64, error) {
	iter := client.Scan(ctx, 0, prefix+"*", redisScanBatch).Iterator()

	var count int64
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan error: %w", err)
	}
	return count, nil
}
