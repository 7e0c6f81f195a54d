package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.Equal(t, -1.5, Mean([]float64{-1, -2}))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 2, 3}))
	assert.Equal(t, 5.0, Median([]float64{5}))
}

func TestVariance(t *testing.T) {
	assert.Equal(t, 0.0, Variance(nil))
	assert.Equal(t, 0.0, Variance([]float64{7}))
	// sample variance of 1..5 is 2.5
	assert.InDelta(t, 2.5, Variance([]float64{1, 2, 3, 4, 5}), 1e-12)
	assert.Equal(t, 0.0, Variance([]float64{3, 3, 3}))
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev([]float64{4}))
	assert.InDelta(t, 1.0, StdDev([]float64{1, 2, 3}), 1e-12)
}

func TestMinMaxSum(t *testing.T) {
	vals := []float64{3, -1, 7, 2}
	assert.Equal(t, -1.0, Min(vals))
	assert.Equal(t, 7.0, Max(vals))
	assert.Equal(t, 11.0, Sum(vals))
	assert.Equal(t, 0.0, Min(nil))
	assert.Equal(t, 0.0, Max(nil))
	assert.Equal(t, 0.0, Sum(nil))
}

func TestPercentiles(t *testing.T) {
	assert.Nil(t, Percentiles(nil))

	cuts := Percentiles([]float64{0, 100})
	require.Len(t, cuts, 101)
	assert.Equal(t, 0.0, cuts[0])
	assert.Equal(t, 50.0, cuts[50])
	assert.Equal(t, 100.0, cuts[100])

	single := Percentiles([]float64{42})
	require.Len(t, single, 101)
	assert.Equal(t, 42.0, single[0])
	assert.Equal(t, 42.0, single[100])
}

func TestPercentiles_Interpolation(t *testing.T) {
	cuts := Percentiles([]float64{1, 2, 3, 4})
	// position for q=25 is 0.75: 1 + 0.75*(2-1)
	assert.InDelta(t, 1.75, cuts[25], 1e-12)
	assert.InDelta(t, 2.5, cuts[50], 1e-12)
}

func TestSearchSorted(t *testing.T) {
	sorted := []float64{1, 2, 2, 3}
	assert.Equal(t, 0, SearchSorted(sorted, 0.5))
	assert.Equal(t, 1, SearchSorted(sorted, 2)) // leftmost
	assert.Equal(t, 4, SearchSorted(sorted, 10))
}

func TestClip(t *testing.T) {
	assert.Equal(t, 0.0, Clip(-5, 0, 1000))
	assert.Equal(t, 1000.0, Clip(2000, 0, 1000))
	assert.Equal(t, 500.0, Clip(500, 0, 1000))
}

func TestPearson(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.0, Pearson(x, []float64{2, 4, 6, 8}), 1e-12)
	assert.InDelta(t, -1.0, Pearson(x, []float64{8, 6, 4, 2}), 1e-12)
	assert.Equal(t, 0.0, Pearson(x, []float64{5, 5, 5, 5}))
	assert.Equal(t, 0.0, Pearson(x, []float64{1, 2}))
	assert.Equal(t, 0.0, Pearson(nil, nil))
}
