package chart

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestRenderKinds(t *testing.T) {
	specs := []Spec{
		{Kind: Line, Title: "Distance over time", X: []float64{1, 2, 3}, Y: []float64{5.2, 3.1, 12.0}},
		{Kind: Scatter, X: []float64{1, 2, 3}, Y: []float64{148, 152, 150}},
		{Kind: Bar, Labels: []string{"Mon", "Wed", "Sat"}, Y: []float64{3, 5, 10}},
		{Kind: Histogram, X: []float64{7.0, 7.5, 8.0, 8.2, 9.0}, Bins: 5},
	}

	for _, spec := range specs {
		t.Run(string(spec.Kind), func(t *testing.T) {
			png, err := Render(spec)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(png, pngMagic), "not a PNG")
		})
	}
}

func TestRenderTimeAxis(t *testing.T) {
	png, err := Render(Spec{
		Kind:  Line,
		TimeX: true,
		X:     []float64{1709251200, 1709424000, 1709769600},
		Y:     []float64{5.2, 3.1, 12.0},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestRenderValidation(t *testing.T) {
	_, err := Render(Spec{Kind: Line})
	assert.ErrorContains(t, err, "no data points")

	_, err = Render(Spec{Kind: Line, X: []float64{1, 2}, Y: []float64{1}})
	assert.ErrorContains(t, err, "2 x values but 1 y values")

	_, err = Render(Spec{Kind: Bar, Labels: []string{"a"}, Y: []float64{1, 2}})
	assert.ErrorContains(t, err, "1 labels but 2 values")

	_, err = Render(Spec{Kind: "pie", X: []float64{1}})
	assert.ErrorContains(t, err, "unknown chart kind")
}

func TestFileStoreLastWriteWins(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "latest.png"))

	require.NoError(t, store.Put([]byte("first")))
	require.NoError(t, store.Put([]byte("second")))

	got, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}
