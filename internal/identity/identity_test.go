package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake-io/ingestlake/internal/identity"
)

func TestObjectIdentityIsDeterministic(t *testing.T) {
	t.Parallel()

	lastModified := time.Date(2025, 8, 19, 8, 44, 0, 0, time.UTC)

	first := identity.ObjectIdentity("685146545Patients.csv", 1024, "etag-1", lastModified)
	second := identity.ObjectIdentity("685146545Patients.csv", 1024, "etag-1", lastModified)

	require.Equal(t, first, second)
	assert.Len(t, first, 64, "sha256 hex digest must be 64 characters")
}

func TestObjectIdentityChangesWithInputs(t *testing.T) {
	t.Parallel()

	lastModified := time.Date(2025, 8, 19, 8, 44, 0, 0, time.UTC)

	base := identity.ObjectIdentity("key.csv", 1024, "etag-1", lastModified)
	diffSize := identity.ObjectIdentity("key.csv", 2048, "etag-1", lastModified)
	diffEtag := identity.ObjectIdentity("key.csv", 1024, "etag-2", lastModified)

	assert.NotEqual(t, base, diffSize)
	assert.NotEqual(t, base, diffEtag)
}

func TestFastFingerprintIsDeterministic(t *testing.T) {
	t.Parallel()

	a := identity.FastFingerprint("key.csv", 1024, "etag-1")
	b := identity.FastFingerprint("key.csv", 1024, "etag-1")
	c := identity.FastFingerprint("key.csv", 1024, "etag-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIdempotencyKeyIsStablePerVersionAndHash(t *testing.T) {
	t.Parallel()

	key1 := identity.IdempotencyKey("v1", "hash1")
	key2 := identity.IdempotencyKey("v1", "hash1")
	key3 := identity.IdempotencyKey("v2", "hash1")

	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
}
