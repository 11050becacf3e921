// Package aggregation implements the rate-fusion pipeline: IQR outlier
// filtering, confidence scoring, and median aggregation of price
// observations from heterogeneous sources.
package aggregation

import (
	"math"
	"sort"
)

// QuartileStats describes the IQR fence computed over a price sample.
type QuartileStats struct {
	Q1         float64 `json:"q1"`
	Median     float64 `json:"median"`
	Q3         float64 `json:"q3"`
	IQR        float64 `json:"iqr"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// FilterResult holds the outcome of an outlier pass over a price sample.
type FilterResult struct {
	Filtered []float64
	Removed  []float64
	Stats    *QuartileStats // nil when the sample was too small to fence
}

// DetectOutliers removes prices outside the Tukey fence
// [Q1 - 1.5*IQR, Q3 + 1.5*IQR]. Samples of two or fewer observations are
// returned unchanged because quartiles are undefined.
func DetectOutliers(prices []float64) FilterResult {
	if len(prices) <= 2 {
		filtered := make([]float64, len(prices))
		copy(filtered, prices)
		return FilterResult{Filtered: filtered, Removed: []float64{}}
	}

	stats := computeQuartiles(prices)

	filtered := make([]float64, 0, len(prices))
	removed := make([]float64, 0)
	for _, p := range prices {
		if p < stats.LowerBound || p > stats.UpperBound {
			removed = append(removed, p)
		} else {
			filtered = append(filtered, p)
		}
	}

	return FilterResult{Filtered: filtered, Removed: removed, Stats: &stats}
}

// WithinBounds reports whether a price survives the fence described by stats.
func (s *QuartileStats) WithinBounds(price float64) bool {
	return price >= s.LowerBound && price <= s.UpperBound
}

// computeQuartiles derives Q1/median/Q3 as the medians of the lower and
// upper halves of the sorted sample. The middle element is excluded from
// both halves when the count is odd.
func computeQuartiles(prices []float64) QuartileStats {
	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	n := len(sorted)
	mid := n / 2

	lower := sorted[:mid]
	var upper []float64
	if n%2 == 0 {
		upper = sorted[mid:]
	} else {
		upper = sorted[mid+1:]
	}

	q1 := Median(lower)
	q3 := Median(upper)
	iqr := q3 - q1

	return QuartileStats{
		Q1:         q1,
		Median:     Median(sorted),
		Q3:         q3,
		IQR:        iqr,
		LowerBound: q1 - 1.5*iqr,
		UpperBound: q3 + 1.5*iqr,
	}
}

// Median returns the median of a sample, averaging the two middle values
// for even counts. Returns 0 for an empty sample.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Round6 rounds a price to six decimals for output.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Round3 rounds a confidence to three decimals for output.
func Round3(v float64) float64 {
	return math.Round(v*1e3) / 1e3
}
