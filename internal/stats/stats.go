// Package stats provides the numeric aggregation strategies used to seed new
// instances with priors from a user's own history.
package stats

import "sort"

// legacyScaleMax is the upper bound of the old 0–10 rating scale. Values at
// or below it are up-scaled to the current 0–100 scale before aggregation.
const legacyScaleMax = 10

// NormalizeScale converts a legacy 0–10 value to the 0–100 scale. Values
// already above the legacy range pass through unchanged.
func NormalizeScale(v float64) float64 {
	if v <= legacyScaleMax {
		return v * 10
	}
	return v
}

// Mean returns the arithmetic mean of vs, or 0 for an empty slice.
func Mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// Median returns the median of vs, or 0 for an empty slice. This is the
// "robust" baseline strategy: a single outlier cannot move it.
func Median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// TrimmedMean returns the mean of vs after excluding values outside
// [Q1-1.5*IQR, Q3+1.5*IQR]. If trimming empties the set, the untrimmed mean
// is returned instead. This is the "sensitive" baseline strategy.
func TrimmedMean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	var kept []float64
	for _, v := range sorted {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return Mean(vs)
	}
	return Mean(kept)
}

// quantile returns the q-th quantile of sorted using linear interpolation
// between closest ranks. sorted must be non-empty and ascending.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
