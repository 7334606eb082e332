package objectstore_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake-io/ingestlake/internal/objectstore"
)

func TestMemoryAdapterListFiltersByPrefix(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter().
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/a.csv"}}).
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "landing/b.csv"}}).
		Put(objectstore.MemoryObject{Meta: objectstore.ObjectMeta{Key: "other/c.csv"}})

	objs, err := adapter.List(context.Background(), "landing/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "landing/a.csv", objs[0].Key)
	assert.Equal(t, "landing/b.csv", objs[1].Key)
}

func TestMemoryAdapterHeadMissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter()

	_, err := adapter.Head(context.Background(), "missing.csv")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestMemoryAdapterOpenStreamReadsBody(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter().Put(objectstore.MemoryObject{
		Meta: objectstore.ObjectMeta{Key: "landing/a.csv", LastModified: time.Now()},
		Body: []byte("hello"),
	})

	stream, err := adapter.OpenStream(context.Background(), "landing/a.csv")
	require.NoError(t, err)
	defer stream.Close()

	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestMemoryAdapterExists(t *testing.T) {
	t.Parallel()

	adapter := objectstore.NewMemoryAdapter().Put(objectstore.MemoryObject{
		Meta: objectstore.ObjectMeta{Key: "landing/a.csv"},
	})

	ok, err := adapter.Exists(context.Background(), "landing/a.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.Exists(context.Background(), "landing/missing.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigValidateRequiresBucket(t *testing.T) {
	t.Parallel()

	cfg := &objectstore.Config{}
	require.ErrorIs(t, cfg.Validate(), objectstore.ErrBucketEmpty)

	cfg.Bucket = "landing-bucket"
	require.NoError(t, cfg.Validate())
}
