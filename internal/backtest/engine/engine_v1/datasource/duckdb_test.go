package datasource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantbeam/leverbt/internal/logger"
	"github.com/quantbeam/leverbt/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

const sampleCSV = `time,open,high,low,close,volume,ma20
2024-01-01 00:00:00,100,101,99,100,1000,
2024-01-01 01:00:00,100,102,99.5,101,1100,100.5
2024-01-01 02:00:00,101,103,100,102,1200,101.0
`

func newSource(t *testing.T) *DuckDBSource {
	t.Helper()

	source, err := NewDuckDBSource(logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { source.Close() })

	return source
}

func TestLoadCSVWithIndicatorColumn(t *testing.T) {
	source := newSource(t)
	require.NoError(t, source.Initialize(writeCSV(t, sampleCSV)))

	bars, err := source.Load(optional.None[time.Time]())
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.InDelta(t, 100, bars[0].Open, 1e-9)
	assert.InDelta(t, 103, bars[2].High, 1e-9)
	assert.InDelta(t, 1100, bars[1].Volume, 1e-9)
	assert.True(t, bars[1].Time.After(bars[0].Time))

	// The extra column rides along as an indicator; its NULL warmup row
	// stays absent.
	_, present := bars[0].Indicators["ma20"]
	assert.False(t, present)
	assert.InDelta(t, 100.5, bars[1].Indicators["ma20"], 1e-9)
}

func TestLoadFromStartTime(t *testing.T) {
	source := newSource(t)
	require.NoError(t, source.Initialize(writeCSV(t, sampleCSV)))

	start := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

	bars, err := source.Load(optional.Some(start))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 101, bars[0].Close, 1e-9)

	count, err := source.Count(optional.Some(start))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInitializeRejectsUnknownExtension(t *testing.T) {
	source := newSource(t)

	err := source.Initialize("bars.json")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func TestInitializeRejectsMissingColumns(t *testing.T) {
	source := newSource(t)

	path := writeCSV(t, "time,open,close\n2024-01-01 00:00:00,100,101\n")

	err := source.Initialize(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDataColumnMissing))
}

func TestLoadEmptyFile(t *testing.T) {
	source := newSource(t)
	require.NoError(t, source.Initialize(writeCSV(t, "time,open,high,low,close,volume\n")))

	_, err := source.Load(optional.None[time.Time]())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDataEmpty))
}
