package contractcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by durable store lookups when no record exists
// under the requested (digest, variant) key.
var ErrNotFound = errors.New("contractcache: record not found")

// Domain names used in stats, metrics, and sweep reports.
const (
	DomainParse     = "parse"
	DomainEmbedding = "embedding"
	DomainInference = "inference"
)

// ParseRecord is the durable shape of a cached document parse. CreatedAt
// doubles as the "parsed at" marker when the record is backfilled into
// the in-process tier.
type ParseRecord struct {
	Digest       string
	Fields       json.RawMessage
	Strategy     string
	Completeness float64
	Warnings     []string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// EmbeddingRecord is the durable shape of a cached embedding vector.
// Embeddings carry no expiry: they are stable for a given (text, model)
// pair and expensive to regenerate, so they persist until explicitly
// purged.
type EmbeddingRecord struct {
	Digest    string
	Model     string
	Vector    []float32
	CreatedAt time.Time
}

// InferenceRecord is the durable shape of a cached model response.
type InferenceRecord struct {
	Digest    string
	Model     string
	Response  string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// ParseStore is the durable tier for parse results, keyed by content
// digest alone. Upsert semantics: a colliding digest is an update, never
// a duplicate, so concurrent writers racing to populate the same entry
// both succeed.
type ParseStore interface {
	Upsert(ctx context.Context, rec ParseRecord) error
	Lookup(ctx context.Context, digest string) (*ParseRecord, error)
	Delete(ctx context.Context, digest string) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// EmbeddingStore is the durable tier for embeddings, keyed by
// (digest, model).
type EmbeddingStore interface {
	Upsert(ctx context.Context, rec EmbeddingRecord) error
	Lookup(ctx context.Context, digest, model string) (*EmbeddingRecord, error)
	Delete(ctx context.Context, digest, model string) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// InferenceStore is the durable tier for model responses, keyed by
// (digest, model).
type InferenceStore interface {
	Upsert(ctx context.Context, rec InferenceRecord) error
	Lookup(ctx context.Context, digest, model string) (*InferenceRecord, error)
	Delete(ctx context.Context, digest, model string) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	CountExpired(ctx context.Context) (int64, error)
}

// Sweeper removes time-boxed durable records across all domains and
// reports how many were deleted per domain.
type Sweeper interface {
	SweepExpired(ctx context.Context) (map[string]int64, error)
}
