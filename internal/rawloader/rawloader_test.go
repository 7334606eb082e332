package rawloader_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/healthlake-io/ingestlake/internal/config"
	"github.com/healthlake-io/ingestlake/internal/discovery"
	"github.com/healthlake-io/ingestlake/internal/filename"
	"github.com/healthlake-io/ingestlake/internal/objectstore"
	"github.com/healthlake-io/ingestlake/internal/rawloader"
	"github.com/healthlake-io/ingestlake/internal/registry"
)

func TestLoadStreamsRowsIntoLandingTable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	reg := registry.NewPostgresRegistry(testDB.Connection)
	loader := rawloader.New(testDB.Connection, reg)

	body := "P1|~~|PR1|~~|0001|~~|Ann|~~|Smith|~~|199001010000|~~|F|~~|ABC1234|~~|1 Main St|~~|Townsville|~~|1234|~~|0211234567|~~|ann@example.com|~~|202601010000|^^|"

	adapter := objectstore.NewMemoryAdapter().Put(objectstore.MemoryObject{
		Meta: objectstore.ObjectMeta{
			Key: "landing/" + "0001000042Patients202601010000202601020000202601020100.csv",
			VersionID: "v1", ETag: "etag1", Size: int64(len(body)), LastModified: time.Now(),
		},
		Body: []byte(body),
	})

	parser := filename.NewParser(filename.DefaultConfig())
	parsed, err := parser.Parse("landing/0001000042Patients202601010000202601020000202601020100.csv")
	require.NoError(t, err)

	discovered := discovery.DiscoveredFile{
		Parsed:       parsed,
		Meta:         objectstore.ObjectMeta{Key: "landing/0001000042Patients202601010000202601020000202601020100.csv", VersionID: "v1"},
		IdentityHash: "test-identity-hash",
	}

	run, err := reg.CreateLoadRun(ctx, "test")
	require.NoError(t, err)

	result, err := loader.Load(ctx, adapter, run.LoadRunID, discovered, rawloader.Options{})
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, int64(1), result.RowsRead)
	require.Equal(t, int64(1), result.RowsIngested)

	var count int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx,
		"SELECT count(*) FROM raw.patients WHERE load_run_id = $1", run.LoadRunID).Scan(&count))
	require.Equal(t, 1, count)
}

func TestLoadSkipsAlreadyProcessedFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	reg := registry.NewPostgresRegistry(testDB.Connection)
	loader := rawloader.New(testDB.Connection, reg)

	body := "P2|~~|PR1|~~|0001|~~|Bob|~~|Jones|~~|199101010000|~~|M|~~|XYZ9876|~~|2 Main St|~~|Townsville|~~|1234|~~|0211234568|~~|bob@example.com|~~|202601010000|^^|"
	key := "landing/0001000042Patients202601010000202601020000202601020101.csv"

	adapter := objectstore.NewMemoryAdapter().Put(objectstore.MemoryObject{
		Meta: objectstore.ObjectMeta{Key: key, VersionID: "v2", ETag: "etag2", Size: int64(len(body)), LastModified: time.Now()},
		Body: []byte(body),
	})

	parser := filename.NewParser(filename.DefaultConfig())
	parsed, err := parser.Parse(key)
	require.NoError(t, err)

	discovered := discovery.DiscoveredFile{
		Parsed:       parsed,
		Meta:         objectstore.ObjectMeta{Key: key, VersionID: "v2"},
		IdentityHash: "test-identity-hash-2",
	}

	run, err := reg.CreateLoadRun(ctx, "test")
	require.NoError(t, err)

	first, err := loader.Load(ctx, adapter, run.LoadRunID, discovered, rawloader.Options{})
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := loader.Load(ctx, adapter, run.LoadRunID, discovered, rawloader.Options{})
	require.NoError(t, err)
	require.True(t, second.Skipped)
}
