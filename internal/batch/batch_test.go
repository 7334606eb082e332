package batch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake-io/ingestlake/internal/batch"
	"github.com/healthlake-io/ingestlake/internal/discovery"
	"github.com/healthlake-io/ingestlake/internal/filename"
	"github.com/healthlake-io/ingestlake/internal/objectstore"
)

func fileFor(t *testing.T, extract, batchID, versionID, checksum string) discovery.DiscoveredFile {
	t.Helper()

	dateExtracted, err := time.Parse("0601021504", batchID)
	require.NoError(t, err)

	return discovery.DiscoveredFile{
		Parsed: filename.ParsedFilename{
			ExtractType:   filename.ExtractType(extract),
			BatchID:       batchID,
			DateExtracted: dateExtracted,
		},
		Meta: objectstore.ObjectMeta{
			Key: extract + "-" + batchID, VersionID: versionID, Checksum: checksum,
		},
	}
}

func TestPlanGroupsFilesByBatchID(t *testing.T) {
	t.Parallel()

	files := []discovery.DiscoveredFile{
		fileFor(t, "Patients", "2601020100", "v1", "h1"),
		fileFor(t, "Providers", "2601020100", "v2", "h2"),
		fileFor(t, "Patients", "2601030100", "v3", "h3"),
	}

	plan, err := batch.Plan(files, batch.Options{Mode: batch.ModeBackfill})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 2)
	assert.Equal(t, "2601020100", plan.Batches[0].BatchID)
	assert.Len(t, plan.Batches[0].Files, 2)
}

func TestPlanOrdersExtractsByPriorityWithinBatch(t *testing.T) {
	t.Parallel()

	files := []discovery.DiscoveredFile{
		fileFor(t, "Appointments", "2601020100", "v1", "h1"),
		fileFor(t, "Patients", "2601020100", "v2", "h2"),
	}

	plan, err := batch.Plan(files, batch.Options{Mode: batch.ModeBackfill})
	require.NoError(t, err)
	require.Len(t, plan.ProcessingOrder, 2)
	assert.Equal(t, filename.ExtractType("Patients"), plan.ProcessingOrder[0].Parsed.ExtractType)
	assert.Equal(t, filename.ExtractType("Appointments"), plan.ProcessingOrder[1].Parsed.ExtractType)
}

func TestPlanOrdersBatchesByMode(t *testing.T) {
	t.Parallel()

	files := []discovery.DiscoveredFile{
		fileFor(t, "Patients", "2601030100", "v1", "h1"),
		fileFor(t, "Patients", "2601020100", "v2", "h2"),
	}

	backfill, err := batch.Plan(files, batch.Options{Mode: batch.ModeBackfill})
	require.NoError(t, err)
	assert.Equal(t, "2601020100", backfill.Batches[0].BatchID)

	latest, err := batch.Plan(files, batch.Options{Mode: batch.ModeLatest})
	require.NoError(t, err)
	assert.Equal(t, "2601030100", latest.Batches[0].BatchID)
}

func TestPlanWarnsOnMissingRequiredExtract(t *testing.T) {
	t.Parallel()

	files := []discovery.DiscoveredFile{fileFor(t, "Appointments", "2601020100", "v1", "h1")}

	plan, err := batch.Plan(files, batch.Options{
		Mode:             batch.ModeBackfill,
		RequiredExtracts: []filename.ExtractType{filename.ExtractPatients},
	})
	require.NoError(t, err)
	require.Len(t, plan.Warnings, 1)
	assert.False(t, plan.Batches[0].Complete)
}

func TestPlanWarnsOnDuplicateVersionHashPair(t *testing.T) {
	t.Parallel()

	files := []discovery.DiscoveredFile{
		fileFor(t, "Patients", "2601020100", "v1", "h1"),
		fileFor(t, "Patients", "2601020100", "v1", "h1"),
	}

	plan, err := batch.Plan(files, batch.Options{Mode: batch.ModeBackfill})
	require.NoError(t, err)
	assert.Len(t, plan.Warnings, 1)
}

func TestPlanEmptyInputWarns(t *testing.T) {
	t.Parallel()

	plan, err := batch.Plan(nil, batch.Options{})
	require.NoError(t, err)
	assert.Empty(t, plan.Batches)
	require.Len(t, plan.Warnings, 1)
}
