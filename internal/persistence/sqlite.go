// Package persistence provides durable-tier backends for the domain
// caches: a SQLite store for single-node deployments and a Redis store
// for shared ones. Both implement the store interfaces declared by the
// contractcache package.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clausehub/contract-cache/internal/contractcache"
)

const createTables = `
CREATE TABLE IF NOT EXISTS parse_results (
	digest TEXT PRIMARY KEY,
	fields BLOB NOT NULL,
	strategy TEXT NOT NULL,
	completeness REAL NOT NULL,
	warnings TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS embeddings (
	digest TEXT NOT NULL,
	model TEXT NOT NULL,
	vector BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (digest, model)
);

CREATE TABLE IF NOT EXISTS inference_results (
	digest TEXT NOT NULL,
	model TEXT NOT NULL,
	response BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME,
	PRIMARY KEY (digest, model)
);
`

// SQLiteStore is a SQLite-backed durable tier. One table per domain,
// keyed by content digest (plus model variant where applicable); writes
// are upserts so concurrent writers racing on the same key both succeed.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Parse returns the parse result table.
func (s *SQLiteStore) Parse() contractcache.ParseStore {
	return &sqliteParseTable{db: s.db}
}

// Embeddings returns the embedding table.
func (s *SQLiteStore) Embeddings() contractcache.EmbeddingStore {
	return &sqliteEmbeddingTable{db: s.db}
}

// Inference returns the inference result table.
func (s *SQLiteStore) Inference() contractcache.InferenceStore {
	return &sqliteInferenceTable{db: s.db}
}

// SweepExpired deletes time-boxed rows whose expiry has passed and
// reports removals per domain. Embeddings carry no expiry and always
// report zero.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (map[string]int64, error) {
	now := time.Now().UTC()
	removed := map[string]int64{
		contractcache.DomainParse:     0,
		contractcache.DomainEmbedding: 0,
		contractcache.DomainInference: 0,
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM parse_results WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("sweep parse_results: %w", err)
	}
	removed[contractcache.DomainParse], _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM inference_results WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("sweep inference_results: %w", err)
	}
	removed[contractcache.DomainInference], _ = res.RowsAffected()

	return removed, nil
}

// --- parse_results ---

type sqliteParseTable struct {
	db *sql.DB
}

func (t *sqliteParseTable) Upsert(ctx context.Context, rec contractcache.ParseRecord) error {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	_, err = t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO parse_results (digest, fields, strategy, completeness, warnings, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Digest, []byte(rec.Fields), rec.Strategy, rec.Completeness, string(warnings),
		rec.CreatedAt.UTC(), nullableTime(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upsert parse result: %w", err)
	}
	return nil
}

func (t *sqliteParseTable) Lookup(ctx context.Context, digest string) (*contractcache.ParseRecord, error) {
	var (
		rec       contractcache.ParseRecord
		fields    []byte
		warnings  string
		expiresAt sql.NullTime
	)

	err := t.db.QueryRowContext(ctx,
		`SELECT digest, fields, strategy, completeness, warnings, created_at, expires_at
		 FROM parse_results WHERE digest = ?`, digest,
	).Scan(&rec.Digest, &fields, &rec.Strategy, &rec.Completeness, &warnings, &rec.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contractcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup parse result: %w", err)
	}

	rec.Fields = json.RawMessage(fields)
	if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
		// A record that no longer decodes is useless; drop it and
		// report a miss so the caller recomputes.
		_ = t.Delete(ctx, digest)
		return nil, contractcache.ErrNotFound
	}
	if expiresAt.Valid {
		exp := expiresAt.Time
		rec.ExpiresAt = &exp
	}

	return &rec, nil
}

func (t *sqliteParseTable) Delete(ctx context.Context, digest string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM parse_results WHERE digest = ?`, digest); err != nil {
		return fmt.Errorf("delete parse result: %w", err)
	}
	return nil
}

func (t *sqliteParseTable) DeleteAll(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM parse_results`); err != nil {
		return fmt.Errorf("delete parse results: %w", err)
	}
	return nil
}

func (t *sqliteParseTable) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parse_results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count parse results: %w", err)
	}
	return count, nil
}

// --- embeddings ---

type sqliteEmbeddingTable struct {
	db *sql.DB
}

func (t *sqliteEmbeddingTable) Upsert(ctx context.Context, rec contractcache.EmbeddingRecord) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (digest, model, vector, created_at)
		 VALUES (?, ?, ?, ?)`,
		rec.Digest, rec.Model, encodeVector(rec.Vector), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

func (t *sqliteEmbeddingTable) Lookup(ctx context.Context, digest, model string) (*contractcache.EmbeddingRecord, error) {
	var (
		rec contractcache.EmbeddingRecord
		raw []byte
	)

	err := t.db.QueryRowContext(ctx,
		`SELECT digest, model, vector, created_at FROM embeddings WHERE digest = ? AND model = ?`,
		digest, model,
	).Scan(&rec.Digest, &rec.Model, &raw, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contractcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup embedding: %w", err)
	}

	vec, err := decodeVector(raw)
	if err != nil {
		// Corrupt blob: drop the row and report a miss.
		_ = t.Delete(ctx, digest, model)
		return nil, contractcache.ErrNotFound
	}
	rec.Vector = vec

	return &rec, nil
}

func (t *sqliteEmbeddingTable) Delete(ctx context.Context, digest, model string) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE digest = ? AND model = ?`, digest, model); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

func (t *sqliteEmbeddingTable) DeleteAll(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

func (t *sqliteEmbeddingTable) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// --- inference_results ---

type sqliteInferenceTable struct {
	db *sql.DB
}

func (t *sqliteInferenceTable) Upsert(ctx context.Context, rec contractcache.InferenceRecord) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO inference_results (digest, model, response, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Digest, rec.Model, []byte(rec.Response), rec.CreatedAt.UTC(), nullableTime(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upsert inference result: %w", err)
	}
	return nil
}

func (t *sqliteInferenceTable) Lookup(ctx context.Context, digest, model string) (*contractcache.InferenceRecord, error) {
	var (
		rec       contractcache.InferenceRecord
		response  []byte
		expiresAt sql.NullTime
	)

	err := t.db.QueryRowContext(ctx,
		`SELECT digest, model, response, created_at, expires_at
		 FROM inference_results WHERE digest = ? AND model = ?`,
		digest, model,
	).Scan(&rec.Digest, &rec.Model, &response, &rec.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contractcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup inference result: %w", err)
	}

	rec.Response = string(response)
	if expiresAt.Valid {
		exp := expiresAt.Time
		rec.ExpiresAt = &exp
	}

	return &rec, nil
}

func (t *sqliteInferenceTable) Delete(ctx context.Context, digest, model string) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM inference_results WHERE digest = ? AND model = ?`, digest, model); err != nil {
		return fmt.Errorf("delete inference result: %w", err)
	}
	return nil
}

func (t *sqliteInferenceTable) DeleteAll(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM inference_results`); err != nil {
		return fmt.Errorf("delete inference results: %w", err)
	}
	return nil
}

func (t *sqliteInferenceTable) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inference_results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count inference results: %w", err)
	}
	return count, nil
}

func (t *sqliteInferenceTable) CountExpired(ctx context.Context) (int64, error) {
	var count int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inference_results WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count expired inference results: %w", err)
	}
	return count, nil
}

// nullableTime converts an optional expiry for storage.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
