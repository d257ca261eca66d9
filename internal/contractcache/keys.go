// Package contractcache implements the multi-tier cache fronting the
// expensive operations of the contract platform: document parsing,
// embedding generation, and model inference.
//
// Each domain cache composes the shared in-process tier (L1) with a
// durable content-addressed store (L2) behind a read-through /
// write-through policy. Writes to L2 are best-effort; L2 failures on the
// read path propagate so callers can fall through to recomputation.
package contractcache

import (
	"crypto/sha256"
	"encoding/hex"
)

// L1 key prefixes, one per domain cache. Prefix-scoped eviction relies
// on these being disjoint.
const (
	parsePrefix     = "doc_fp:"
	embeddingPrefix = "embed:"
	inferencePrefix = "llm:"
)

// Digest returns the hex-encoded SHA-256 of input. Inputs may be
// adversarial (untrusted uploads, model-echoed text), so a cryptographic
// hash is required: accidental collisions would silently serve the wrong
// cached artifact.
func Digest(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// DigestText returns the digest of a text input.
func DigestText(text string) string {
	return Digest([]byte(text))
}

func parseKey(digest string) string {
	return parsePrefix + digest
}

func embeddingKey(digest, model string) string {
	return embeddingPrefix + digest + ":" + model
}

func inferenceKey(digest, model string) string {
	return inferencePrefix + digest + ":" + model
}
