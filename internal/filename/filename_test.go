package filename_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake-io/ingestlake/internal/filename"
)

func buildKey(perOrgID, practiceID, extract, dateFrom, dateTo, dateExtracted string) string {
	return perOrgID + practiceID + extract + dateFrom + dateTo + dateExtracted + ".csv"
}

func TestParseDeltaFile(t *testing.T) {
	t.Parallel()

	p := filename.NewParser(filename.DefaultConfig())
	key := buildKey("0001", "000042", "Patients", "202601010000", "202601020000", "202601020100")

	parsed, err := p.Parse(key)
	require.NoError(t, err)

	assert.Equal(t, "0001", parsed.PerOrgID)
	assert.Equal(t, "000042", parsed.PracticeID)
	assert.Equal(t, filename.ExtractPatients, parsed.ExtractType)
	assert.Equal(t, "2601020100", parsed.BatchID)
	assert.True(t, parsed.IsDelta)
	assert.False(t, parsed.IsFullLoad)
}

func TestParseFullLoadSentinel(t *testing.T) {
	t.Parallel()

	p := filename.NewParser(filename.DefaultConfig())
	key := buildKey("0001", "000042", "Providers", "000000000000", "202601020000", "202601020100")

	parsed, err := p.Parse(key)
	require.NoError(t, err)
	assert.True(t, parsed.IsFullLoad)
	assert.False(t, parsed.IsDelta)
}

func TestParseRecognizesSingularAndPluralAliases(t *testing.T) {
	t.Parallel()

	p := filename.NewParser(filename.DefaultConfig())

	singular, err := p.Parse(buildKey("0001", "000042", "Immunisation", "202601010000", "202601020000", "202601020100"))
	require.NoError(t, err)
	assert.Equal(t, filename.ExtractImmunisations, singular.ExtractType)

	plural, err := p.Parse(buildKey("0001", "000042", "Immunisations", "202601010000", "202601020000", "202601020100"))
	require.NoError(t, err)
	assert.Equal(t, filename.ExtractImmunisations, plural.ExtractType)
}

func TestParseRoundTripsDirectoryPrefix(t *testing.T) {
	t.Parallel()

	p := filename.NewParser(filename.DefaultConfig())
	key := "landing/2026/01/" + buildKey("0001", "000042", "Appointments", "202601010000", "202601020000", "202601020100")

	parsed, err := p.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, key, parsed.Key)
	assert.Equal(t, filename.ExtractAppointments, parsed.ExtractType)
}

func TestParseRejectsUnrecognizedExtractType(t *testing.T) {
	t.Parallel()

	p := filename.NewParser(filename.DefaultConfig())
	key := buildKey("0001", "000042", "Bogus", "202601010000", "202601020000", "202601020100")

	_, err := p.Parse(key)
	require.ErrorIs(t, err, filename.ErrUnrecognizedExtractType)
}

func TestParseRejectsOutOfOrderDates(t *testing.T) {
	t.Parallel()

	p := filename.NewParser(filename.DefaultConfig())
	key := buildKey("0001", "000042", "Patients", "202601030000", "202601020000", "202601020100")

	_, err := p.Parse(key)
	require.ErrorIs(t, err, filename.ErrInvalidDateOrder)
}

func TestParseRejectsTooShortKey(t *testing.T) {
	t.Parallel()

	p := filename.NewParser(filename.DefaultConfig())

	_, err := p.Parse("short.csv")
	require.ErrorIs(t, err, filename.ErrMalformedFilename)
}

func TestPriorityOrdersNamedExtractsFirst(t *testing.T) {
	t.Parallel()

	assert.Less(t, filename.Priority(filename.ExtractPatients), filename.Priority(filename.ExtractProviders))
	assert.Less(t, filename.Priority(filename.ExtractProviders), filename.Priority(filename.ExtractAppointments))
	assert.Less(t, filename.Priority(filename.ExtractAppointments), filename.Priority(filename.ExtractImmunisations))
}
