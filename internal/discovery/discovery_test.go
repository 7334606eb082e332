package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake-io/ingestlake/internal/discovery"
	"github.com/healthlake-io/ingestlake/internal/filename"
	"github.com/healthlake-io/ingestlake/internal/objectstore"
)

func key(extract string) string {
	return "0001000042" + extract + "202601010000202601020000202601020100.csv"
}

func TestDiscoverSkipsDirectoryMarkersAndNonCSV(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter().
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/dir/"}}).
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/readme.txt"}}).
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{
			Key: "landing/" + key("Patients"), LastModified: time.Now(), ETag: "abc",
		}})

	files, warnings, err := discovery.Discover(context.Background(), adapter, discovery.Options{Prefix: "landing/"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filename.ExtractPatients, files[0].Parsed.ExtractType)
	assert.Empty(t, warnings)
}

func TestDiscoverWarnsAndSkipsUnparsableKey(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter().
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/garbage.csv"}})

	files, warnings, err := discovery.Discover(context.Background(), adapter, discovery.Options{Prefix: "landing/"})
	require.NoError(t, err)
	assert.Empty(t, files)
	require.Len(t, warnings, 1)
	assert.Equal(t, "landing/garbage.csv", warnings[0].Key)
}

func TestDiscoverFiltersByExtractType(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter().
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/" + key("Patients")}}).
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/" + key("Providers")}})

	files, _, err := discovery.Discover(context.Background(), adapter, discovery.Options{
		Prefix:       "landing/",
		ExtractTypes: []filename.ExtractType{filename.ExtractPatients},
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filename.ExtractPatients, files[0].Parsed.ExtractType)
}

func TestDiscoverComputesStableIdentityHash(t *testing.T) {
	t.Parallel()

	shared := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	adapter := objectstore.NewMemoryAdapter().
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{
			Key: "landing/" + key("Patients"), Size: 100, ETag: "same-etag", LastModified: shared,
		}})

	firstRun, _, err := discovery.Discover(context.Background(), adapter, discovery.Options{Prefix: "landing/"})
	require.NoError(t, err)

	secondRun, _, err := discovery.Discover(context.Background(), adapter, discovery.Options{Prefix: "landing/"})
	require.NoError(t, err)

	require.Len(t, firstRun, 1)
	require.Len(t, secondRun, 1)
	assert.Equal(t, firstRun[0].IdentityHash, secondRun[0].IdentityHash)
	assert.Equal(t, firstRun[0].FastFingerprint, secondRun[0].FastFingerprint)
}

func TestDiscoverRespectsMaxFiles(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter().
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/" + key("Patients")}}).
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/" + key("Providers")}})

	files, _, err := discovery.Discover(context.Background(), adapter, discovery.Options{Prefix: "landing/", MaxFiles: 1})
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
