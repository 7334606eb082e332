package csvframe_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake-io/ingestlake/internal/csvframe"
)

func readAllRows(t *testing.T, f *csvframe.Framer) [][]string {
	t.Helper()

	var rows [][]string

	for {
		fields, err := f.Next()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)

		row := make([]string, len(fields))
		for i, field := range fields {
			row[i] = string(field)
		}

		rows = append(rows, row)
	}

	return rows
}

func TestFramerSplitsFieldsAndRows(t *testing.T) {
	t.Parallel()

	data := "a|~~|b|~~|c|^^|d|~~|e|~~|f|^^|"
	f := csvframe.New(strings.NewReader(data))

	rows := readAllRows(t, f)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b", "c"}, rows[0])
	assert.Equal(t, []string{"d", "e", "f"}, rows[1])
}

func TestFramerPreservesEmptyTrailingFields(t *testing.T) {
	t.Parallel()

	data := "a|~~|b|~~||^^|"
	f := csvframe.New(strings.NewReader(data))

	rows := readAllRows(t, f)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"a", "b", ""}, rows[0])
}

func TestFramerHandlesFinalRowWithoutTrailingSeparator(t *testing.T) {
	t.Parallel()

	data := "a|~~|b|^^|c|~~|d"
	f := csvframe.New(strings.NewReader(data))

	rows := readAllRows(t, f)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b"}, rows[0])
	assert.Equal(t, []string{"c", "d"}, rows[1])
}

// slowReader returns at most one byte per Read call, to exercise the
// framer's carry-over buffer across reads where a separator is split
// mid-boundary.
type slowReader struct {
	data []byte
	pos  int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}

	p[0] = r.data[r.pos]
	r.pos++

	return 1, nil
}

func TestFramerHandlesSeparatorsSplitAcrossReads(t *testing.T) {
	t.Parallel()

	data := []byte("alpha|~~|beta|^^|gamma|~~|delta|^^|")
	f := csvframe.New(&slowReader{data: data})

	rows := readAllRows(t, f)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"alpha", "beta"}, rows[0])
	assert.Equal(t, []string{"gamma", "delta"}, rows[1])
}

func TestFramerEmptyInputYieldsNoRows(t *testing.T) {
	t.Parallel()

	f := csvframe.New(bytes.NewReader(nil))

	_, err := f.Next()
	require.ErrorIs(t, err, io.EOF)
}
