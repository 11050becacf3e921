package compare

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/modules/aggregation"
	"github.com/agentmarket/pricewatch/internal/modules/catalog"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

// Best-value score weights. Price dominates, reliability and
// reputation refine.
const (
	priceWeight  = 0.5
	uptimeWeight = 0.3
	ratingWeight = 0.2

	neutralScore = 0.5
)

// RankedOffer is one competitor in a comparison, annotated with its
// rank and savings against the market median.
type RankedOffer struct {
	Ranking    int      `json:"ranking"`
	Name       string   `json:"name"`
	AgentID    string   `json:"agent_id,omitempty"`
	Price      float64  `json:"price"`
	Unit       string   `json:"unit,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	SavingsPct float64  `json:"savings_pct"`
	IsCheapest bool     `json:"is_cheapest"`
	Uptime     *float64 `json:"uptime,omitempty"`
	Rating     *float64 `json:"rating,omitempty"`
	ValueScore float64  `json:"value_score"`
}

// Result is a full comparison for one market.
type Result struct {
	Market       string        `json:"market"`
	MarketMedian float64       `json:"market_median"`
	BestValue    *RankedOffer  `json:"best_value,omitempty"`
	Offers       []RankedOffer `json:"offers"`
}

// Service ranks competing offers for a category or skill.
type Service struct {
	rates  *catalog.RateRepository
	market *marketplace.Repository
	log    zerolog.Logger
}

// NewService creates a new comparison service
func NewService(rates *catalog.RateRepository, market *marketplace.Repository, log zerolog.Logger) *Service {
	return &Service{
		rates:  rates,
		market: market,
		log:    log.With().Str("component", "compare").Logger(),
	}
}

// CompareProviders ranks provider rates within a category. Returns nil
// when the category has no rates.
func (s *Service) CompareProviders(category, subcategory string) (*Result, error) {
	observations, err := s.rates.ObservationsByCategory(category, subcategory)
	if err != nil {
		return nil, fmt.Errorf("failed to load rates for comparison: %w", err)
	}
	if len(observations) == 0 {
		return nil, nil
	}

	offers := make([]RankedOffer, len(observations))
	for i, obs := range observations {
		offers[i] = RankedOffer{
			Name:     obs.Provider,
			Price:    obs.Price,
			Unit:     obs.Unit,
			Currency: obs.Currency,
		}
	}

	market := category
	if subcategory != "" {
		market = category + "/" + subcategory
	}
	return s.rank(market, offers), nil
}

// CompareAgents ranks agent services offering a skill. Returns nil
// when no agent offers the skill.
func (s *Service) CompareAgents(skill string) (*Result, error) {
	services, err := s.market.BySkill(skill)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent services for comparison: %w", err)
	}
	if len(services) == 0 {
		return nil, nil
	}

	offers := make([]RankedOffer, len(services))
	for i, svc := range services {
		offers[i] = RankedOffer{
			Name:     svc.AgentName,
			AgentID:  svc.AgentID,
			Price:    svc.Price,
			Unit:     svc.Unit,
			Currency: svc.Currency,
			Uptime:   svc.Uptime,
			Rating:   svc.Rating,
		}
	}

	return s.rank(marketplace.CanonicalSkill(skill), offers), nil
}

// rank orders offers cheapest first, computes savings against the
// market median, scores each offer, and picks the best value.
func (s *Service) rank(market string, offers []RankedOffer) *Result {
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Price < offers[j].Price
	})

	prices := make([]float64, len(offers))
	for i, o := range offers {
		prices[i] = o.Price
	}
	median := aggregation.Median(prices)
	maxPrice := prices[len(prices)-1]

	for i := range offers {
		offers[i].Ranking = i + 1
		offers[i].IsCheapest = i == 0
		if median > 0 {
			offers[i].SavingsPct = aggregation.Round3((median - offers[i].Price) / median * 100)
		}
		offers[i].ValueScore = aggregation.Round3(valueScore(offers[i], maxPrice))
	}

	result := &Result{
		Market:       market,
		MarketMedian: aggregation.Round6(median),
		Offers:       offers,
	}

	best := 0
	for i := 1; i < len(offers); i++ {
		if offers[i].ValueScore > offers[best].ValueScore {
			best = i
		}
		// Ties keep the earlier, cheaper offer.
	}
	result.BestValue = &offers[best]

	return result
}

// valueScore blends price position with uptime and rating. Offers that
// do not report uptime or rating score neutral on those components.
func valueScore(offer RankedOffer, maxPrice float64) float64 {
	priceScore := 0.0
	if maxPrice > 0 {
		priceScore = 1 - offer.Price/maxPrice
	}

	uptimeScore := neutralScore
	if offer.Uptime != nil {
		uptimeScore = *offer.Uptime
	}

	ratingScore := neutralScore
	if offer.Rating != nil {
		ratingScore = *offer.Rating / 5
	}

	return priceWeight*priceScore + uptimeWeight*uptimeScore + ratingWeight*ratingScore
}
