// Package identity provides canonical hashing used to deduplicate and trace
// objects as they flow through discovery, raw load, and staging.
//
// All identifiers are pure functions of their inputs (SHA256 or xxhash64),
// so repeated runs over the same object always produce the same identity.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ObjectIdentity is the stable, durable identity hash for a discovered object.
//
// Formula: SHA256(key|size|etag|last-modified).
//
// This is the identity carried on DiscoveredFile and compared against the
// registry's (object_version_id, content_hash) uniqueness constraint; it never
// changes across re-runs as long as the object's key, size, etag, and
// last-modified timestamp are unchanged.
func ObjectIdentity(key string, size int64, etag string, lastModified time.Time) string {
	input := fmt.Sprintf("%s|%d|%s|%s", key, size, etag, lastModified.UTC().Format(time.RFC3339Nano))

	return hashSHA256(input)
}

// FastFingerprint computes a cheap xxhash64 digest of key, size, and etag
// (ObjectIdentity's inputs without last-modified), used only to short-circuit duplicate-pair detection within
// a single in-memory discovery pass (see internal/discovery). It is never a
// substitute for the durable (object_version_id, content_hash) registry key.
func FastFingerprint(key string, size int64, etag string) uint64 {
	input := fmt.Sprintf("%s|%d|%s", key, size, etag)

	return xxhash.Sum64String(input)
}

// IdempotencyKey returns the registry idempotency key for a load attempt.
//
// Formula: SHA256(objectVersionID + contentHash).
//
// This mirrors the spec's idempotency key: the pair (object-version-id,
// content-hash) uniquely identifies one delivered object across re-runs.
func IdempotencyKey(objectVersionID, contentHash string) string {
	return hashSHA256(objectVersionID + contentHash)
}

func hashSHA256(input string) string {
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
