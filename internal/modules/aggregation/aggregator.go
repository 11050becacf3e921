package aggregation

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/modules/catalog"
)

// Trend classification dead zone: 24h moves under this percentage are
// reported as stable.
const trendDeadZonePct = 5.0

// Trend values reported with an aggregate.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// AggregateMeta describes how an aggregate was produced.
type AggregateMeta struct {
	OutliersRemoved     int  `json:"outliers_removed"`
	TotalRatesCollected int  `json:"total_rates_collected"`
	MedianUsed          bool `json:"median_used"`
}

// AggregatedRate is the fused output for a (category, subcategory).
type AggregatedRate struct {
	Category    string        `json:"category"`
	Subcategory string        `json:"subcategory,omitempty"`
	Price       float64       `json:"price"`
	Currency    string        `json:"currency"`
	Unit        string        `json:"unit"`
	Confidence  float64       `json:"confidence"`
	SourceCount int           `json:"source_count"`
	LastUpdated time.Time     `json:"last_updated"`
	Trend       string        `json:"trend"`
	Meta        AggregateMeta `json:"meta"`
}

// Service fuses per-service rate observations into trusted aggregates.
type Service struct {
	rates  *catalog.RateRepository
	market MarketSource
	log    zerolog.Logger
}

// NewService creates a new aggregation service
func NewService(rates *catalog.RateRepository, market MarketSource, log zerolog.Logger) *Service {
	return &Service{
		rates:  rates,
		market: market,
		log:    log.With().Str("component", "aggregator").Logger(),
	}
}

// AggregateRates fuses all current observations for a category (and
// optional subcategory) into one rate. Returns nil when no observations
// exist or every observation was filtered as an outlier.
func (s *Service) AggregateRates(category, subcategory string) (*AggregatedRate, error) {
	observations, err := s.rates.ObservationsByCategory(category, subcategory)
	if err != nil {
		return nil, fmt.Errorf("failed to load observations for %s/%s: %w", category, subcategory, err)
	}
	if len(observations) == 0 {
		return nil, nil
	}

	prices := make([]float64, len(observations))
	for i, obs := range observations {
		prices[i] = obs.Price
	}

	filter := DetectOutliers(prices)
	if len(filter.Filtered) == 0 {
		return nil, nil
	}

	surviving := survivingObservations(observations, filter)

	samples := make([]Sample, len(surviving))
	for i, obs := range surviving {
		samples[i] = Sample{Price: obs.Price, ObservedAt: obs.UpdatedAt}
	}

	now := time.Now()
	median := Median(filter.Filtered)
	confidence := Confidence(samples, now)
	trend := s.deriveTrend(surviving, median, now)

	latest := surviving[0].UpdatedAt
	for _, obs := range surviving[1:] {
		if obs.UpdatedAt.After(latest) {
			latest = obs.UpdatedAt
		}
	}

	return &AggregatedRate{
		Category:    category,
		Subcategory: subcategory,
		Price:       Round6(median),
		Currency:    surviving[0].Currency,
		Unit:        surviving[0].Unit,
		Confidence:  Round3(confidence),
		SourceCount: len(surviving),
		LastUpdated: latest,
		Trend:       trend,
		Meta: AggregateMeta{
			OutliersRemoved:     len(filter.Removed),
			TotalRatesCollected: len(observations),
			MedianUsed:          true,
		},
	}, nil
}

// AggregateAllCategories fuses every DISTINCT (category, subcategory)
// pair; results are keyed "category" or "category:subcategory".
func (s *Service) AggregateAllCategories() (map[string]*AggregatedRate, error) {
	pairs, err := s.rates.DistinctCategories()
	if err != nil {
		return nil, err
	}

	results := make(map[string]*AggregatedRate, len(pairs))
	for _, pair := range pairs {
		agg, err := s.AggregateRates(pair.Category, pair.Subcategory)
		if err != nil {
			s.log.Error().Err(err).
				Str("category", pair.Category).
				Str("subcategory", pair.Subcategory).
				Msg("Failed to aggregate category")
			continue
		}
		if agg != nil {
			results[pair.Key()] = agg
		}
	}

	return results, nil
}

// survivingObservations keeps observations whose price is inside the
// fence, preserving input order. With no fence (small sample) all
// observations survive.
func survivingObservations(observations []catalog.RateObservation, filter FilterResult) []catalog.RateObservation {
	if filter.Stats == nil {
		return observations
	}

	surviving := make([]catalog.RateObservation, 0, len(filter.Filtered))
	for _, obs := range observations {
		if filter.Stats.WithinBounds(obs.Price) {
			surviving = append(surviving, obs)
		}
	}
	return surviving
}

// deriveTrend compares the fused median against the first surviving
// service's price from 24 hours ago. Missing history reads as stable.
func (s *Service) deriveTrend(surviving []catalog.RateObservation, median float64, now time.Time) string {
	cutoff := now.Add(-24 * time.Hour)

	oldPrice, err := s.rates.HistoricalPriceBefore(surviving[0].ServiceID, cutoff)
	if err != nil {
		s.log.Warn().Err(err).Int("service_id", surviving[0].ServiceID).Msg("Trend lookup failed")
		return TrendStable
	}
	if oldPrice == nil || *oldPrice == 0 {
		return TrendStable
	}

	deltaPct := (median - *oldPrice) / *oldPrice * 100
	if deltaPct >= trendDeadZonePct {
		return TrendUp
	}
	if deltaPct <= -trendDeadZonePct {
		return TrendDown
	}
	return TrendStable
}
