package dataset

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDataset(t *testing.T) *Dataset {
	t.Helper()
	d, err := New(
		[]string{"id", "name", "start_date", "distance", "average_heartrate"},
		[][]string{
			{"101", "Morning Run", "2024-03-01", "5.2", "148"},
			{"102", "Tempo", "2024-03-03", "3.1", ""},
			{"103", "Long Run", "2024-03-07", "12.0", "151"},
		},
	)
	require.NoError(t, err)
	return d
}

func TestSchemaDiscovery(t *testing.T) {
	d := testDataset(t)

	want := Schema{
		{Name: "id", Type: Numeric},
		{Name: "name", Type: Categorical},
		{Name: "start_date", Type: Datetime},
		{Name: "distance", Type: Numeric},
		{Name: "average_heartrate", Type: Numeric},
	}
	assert.Equal(t, want, d.Schema())
	assert.True(t, d.Schema().Has("distance"))
	assert.False(t, d.Schema().Has("pace"))
}

func TestNumericColumnMissingValues(t *testing.T) {
	d := testDataset(t)

	hr, err := d.NumericColumn("average_heartrate")
	require.NoError(t, err)
	require.Len(t, hr, 3)
	assert.Equal(t, 148.0, hr[0])
	assert.True(t, math.IsNaN(hr[1]))
	assert.Equal(t, 151.0, hr[2])
}

func TestNumericColumnTypeMismatch(t *testing.T) {
	d := testDataset(t)

	_, err := d.NumericColumn("name")
	assert.ErrorContains(t, err, "not numeric")

	_, err = d.NumericColumn("cadence")
	assert.ErrorContains(t, err, "unknown column")
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.csv")
	csv := "id,distance\n1,5.0\n2,3.2\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	d, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, d.RowCount())

	dist, err := d.NumericColumn("distance")
	require.NoError(t, err)
	assert.Equal(t, []float64{5.0, 3.2}, dist)
}

func TestRaggedRowsRejected(t *testing.T) {
	_, err := New([]string{"a", "b"}, [][]string{{"1"}})
	assert.Error(t, err)
}

func TestSampleIncludesHeaderAndRows(t *testing.T) {
	d := testDataset(t)
	sample := d.Sample(2)
	assert.Contains(t, sample, "id | name | start_date")
	assert.Contains(t, sample, "Morning Run")
	assert.NotContains(t, sample, "Long Run")
}
