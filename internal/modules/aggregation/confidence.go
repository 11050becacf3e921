package aggregation

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Component weights for the blended confidence score.
const (
	sourceWeight    = 0.4
	varianceWeight  = 0.4
	freshnessWeight = 0.2

	// A single source can never push confidence past this ceiling.
	singleSourceCeiling = 0.6

	// Source count at which the source component saturates.
	sourceSaturation = 5

	// Freshness half-life control: score = 2^(-age_days/30).
	freshnessDecayDays = 30
)

// Sample is one price observation feeding the confidence scorer.
// A zero ObservedAt means the observation age is unknown and it is
// treated as fresh.
type Sample struct {
	Price      float64
	ObservedAt time.Time
}

// ConfidenceBreakdown carries the component scores behind a confidence
// value, for the detailed scoring variant.
type ConfidenceBreakdown struct {
	Confidence     float64 `json:"confidence"`
	SourceScore    float64 `json:"source_score"`
	VarianceScore  float64 `json:"variance_score"`
	FreshnessScore float64 `json:"freshness_score"`
	SourceCount    int     `json:"source_count"`
	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"std_dev"`
}

// Confidence blends source count, dispersion, and freshness into a
// [0,1] score.
func Confidence(samples []Sample, now time.Time) float64 {
	return ConfidenceDetailed(samples, now).Confidence
}

// ConfidenceDetailed computes the confidence score along with its
// component breakdown and descriptive statistics.
func ConfidenceDetailed(samples []Sample, now time.Time) ConfidenceBreakdown {
	n := len(samples)
	if n == 0 {
		return ConfidenceBreakdown{}
	}

	freshness := freshnessScore(samples, now)

	// Single source: freshness-scaled ceiling, no dispersion signal.
	if n == 1 {
		return ConfidenceBreakdown{
			Confidence:     clamp01(singleSourceCeiling * freshness),
			SourceScore:    1.0 / sourceSaturation,
			FreshnessScore: freshness,
			SourceCount:    1,
			Mean:           samples[0].Price,
		}
	}

	prices := make([]float64, n)
	for i, s := range samples {
		prices[i] = s.Price
	}

	mean := stat.Mean(prices, nil)
	stdDev := stat.StdDev(prices, nil)

	sourceScore := math.Min(float64(n)/sourceSaturation, 1)

	// Inverted coefficient of variation; a zero mean carries no signal.
	varianceScore := 0.0
	if mean != 0 {
		cv := stdDev / mean
		varianceScore = math.Max(0, 1-math.Min(cv, 1))
	}

	confidence := sourceWeight*sourceScore +
		varianceWeight*varianceScore +
		freshnessWeight*freshness

	return ConfidenceBreakdown{
		Confidence:     clamp01(confidence),
		SourceScore:    sourceScore,
		VarianceScore:  varianceScore,
		FreshnessScore: freshness,
		SourceCount:    n,
		Mean:           mean,
		StdDev:         stdDev,
	}
}

// freshnessScore averages the exponential age decay across samples.
func freshnessScore(samples []Sample, now time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}

	total := 0.0
	for _, s := range samples {
		if s.ObservedAt.IsZero() || s.ObservedAt.After(now) {
			total += 1
			continue
		}
		ageDays := now.Sub(s.ObservedAt).Hours() / 24
		total += math.Pow(2, -ageDays/freshnessDecayDays)
	}

	return total / float64(len(samples))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
