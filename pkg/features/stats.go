package features

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Median returns the middle value (average of the two middle values for
// even counts), 0 for an empty slice.
func Median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Variance returns the sample variance (ddof=1), 0 when fewer than
// 2 values.
func Variance(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	m := Mean(vals)
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return ss / float64(n-1)
}

// StdDev returns the sample standard deviation, 0 when fewer than 2 values.
func StdDev(vals []float64) float64 {
	return math.Sqrt(Variance(vals))
}

// Min returns the smallest value, 0 for an empty slice.
func Min(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest value, 0 for an empty slice.
func Max(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the total of all values.
func Sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

// Percentiles returns evenly spaced percentile cut points from 0 to 100
// inclusive (101 values) using linear interpolation between order
// statistics. Returns nil for an empty input.
func Percentiles(vals []float64) []float64 {
	n := len(vals)
	if n == 0 {
		return nil
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)

	cuts := make([]float64, 101)
	for q := 0; q <= 100; q++ {
		pos := float64(q) / 100 * float64(n-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		if lo == hi {
			cuts[q] = sorted[lo]
			continue
		}
		frac := pos - float64(lo)
		cuts[q] = sorted[lo] + frac*(sorted[hi]-sorted[lo])
	}
	return cuts
}

// SearchSorted returns the leftmost index at which v could be inserted
// into the sorted slice while keeping it sorted.
func SearchSorted(sorted []float64, v float64) int {
	return sort.SearchFloat64s(sorted, v)
}

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Pearson returns the Pearson correlation coefficient of two equal-length
// series, 0 when it is undefined (mismatched lengths, fewer than 2 points,
// or a constant series).
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	mx, my := Mean(x), Mean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx := x[i] - mx
		dy := y[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	r := sxy / math.Sqrt(sxx*syy)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
