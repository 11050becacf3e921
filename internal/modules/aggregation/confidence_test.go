package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fresh(price float64, now time.Time, age time.Duration) Sample {
	return Sample{Price: price, ObservedAt: now.Add(-age)}
}

func TestConfidence_Bounds(t *testing.T) {
	now := time.Now()

	assert.Equal(t, 0.0, Confidence(nil, now))
	assert.Equal(t, 0.0, Confidence([]Sample{}, now))

	single := Confidence([]Sample{fresh(10, now, 0)}, now)
	assert.Greater(t, single, 0.0)
	assert.LessOrEqual(t, single, 0.6)

	many := Confidence([]Sample{
		fresh(10, now, 0),
		fresh(10.2, now, time.Hour),
		fresh(10.1, now, 0),
		fresh(10.3, now, 2*time.Hour),
		fresh(10.15, now, 0),
	}, now)
	assert.Greater(t, many, 0.8)
	assert.LessOrEqual(t, many, 1.0)
}

func TestConfidence_MonotonicInSourceCount(t *testing.T) {
	now := time.Now()

	// Identical prices and freshness, growing source count.
	prev := 0.0
	for n := 1; n <= 6; n++ {
		samples := make([]Sample, n)
		for i := range samples {
			samples[i] = fresh(10, now, 0)
		}
		score := Confidence(samples, now)
		assert.GreaterOrEqual(t, score, prev, "n=%d", n)
		prev = score
	}
}

func TestConfidence_DecreasesWithDispersion(t *testing.T) {
	now := time.Now()

	tight := Confidence([]Sample{
		fresh(10, now, 0), fresh(10.1, now, 0), fresh(9.9, now, 0),
	}, now)
	wide := Confidence([]Sample{
		fresh(10, now, 0), fresh(18, now, 0), fresh(2, now, 0),
	}, now)

	assert.Greater(t, tight, wide)
}

func TestConfidence_ZeroMeanCarriesNoVarianceSignal(t *testing.T) {
	now := time.Now()

	breakdown := ConfidenceDetailed([]Sample{
		fresh(0, now, 0), fresh(0, now, 0), fresh(0, now, 0),
	}, now)
	assert.Equal(t, 0.0, breakdown.VarianceScore)
}

func TestConfidence_StaleSamplesScoreLower(t *testing.T) {
	now := time.Now()

	freshScore := Confidence([]Sample{
		fresh(10, now, 0), fresh(10, now, 0), fresh(10, now, 0),
	}, now)
	staleScore := Confidence([]Sample{
		fresh(10, now, 60*24*time.Hour),
		fresh(10, now, 60*24*time.Hour),
		fresh(10, now, 60*24*time.Hour),
	}, now)

	assert.Greater(t, freshScore, staleScore)
}

func TestConfidenceDetailed_Breakdown(t *testing.T) {
	now := time.Now()

	breakdown := ConfidenceDetailed([]Sample{
		fresh(10, now, 0),
		fresh(10.2, now, time.Hour),
		fresh(10.1, now, 0),
		fresh(10.3, now, 2*time.Hour),
		fresh(10.15, now, 0),
	}, now)

	assert.Equal(t, 5, breakdown.SourceCount)
	assert.Equal(t, 1.0, breakdown.SourceScore)
	assert.Greater(t, breakdown.VarianceScore, 0.9)
	assert.Greater(t, breakdown.FreshnessScore, 0.99)
	assert.InDelta(t, 10.15, breakdown.Mean, 0.01)
}

func TestConfidence_UnknownTimestampIsFresh(t *testing.T) {
	now := time.Now()

	known := Confidence([]Sample{fresh(10, now, 0)}, now)
	unknown := Confidence([]Sample{{Price: 10}}, now)

	assert.InDelta(t, known, unknown, 1e-9)
}
