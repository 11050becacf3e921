package aggregation

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

// MarketSource supplies agent-service rows for a skill. Implemented by
// marketplace.Repository.
type MarketSource interface {
	BySkill(skill string) ([]marketplace.AgentService, error)
}

// PriceRange is the min/max spread of a skill's market.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MarketStats summarizes the agent-service market for one skill.
type MarketStats struct {
	Skill         string     `json:"skill"`
	MarketMedian  float64    `json:"market_median"`
	PriceRange    PriceRange `json:"price_range"`
	AvgPrice      float64    `json:"avg_price"`
	StdDeviation  float64    `json:"std_deviation"`
	AvgUptime     float64    `json:"avg_uptime"`
	AvgLatency    float64    `json:"avg_latency"`
	AvgRating     float64    `json:"avg_rating"`
	TotalAgents   int        `json:"total_agents"`
	OutlierAgents []string   `json:"outlier_agents"`
}

// AggregateAgentServiceStats computes market statistics over the agent
// services offering a skill. Returns nil when the skill has no agents.
func (s *Service) AggregateAgentServiceStats(skill string) (*MarketStats, error) {
	skill = marketplace.CanonicalSkill(skill)

	services, err := s.market.BySkill(skill)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent services for %s: %w", skill, err)
	}
	if len(services) == 0 {
		return nil, nil
	}

	prices := make([]float64, len(services))
	for i, svc := range services {
		prices[i] = svc.Price
	}

	filter := DetectOutliers(prices)

	outliers := []string{}
	surviving := services
	if filter.Stats != nil {
		surviving = make([]marketplace.AgentService, 0, len(filter.Filtered))
		for _, svc := range services {
			if filter.Stats.WithinBounds(svc.Price) {
				surviving = append(surviving, svc)
			} else {
				outliers = append(outliers, svc.AgentID)
			}
		}
	}

	survivingPrices := make([]float64, len(surviving))
	for i, svc := range surviving {
		survivingPrices[i] = svc.Price
	}

	stats := &MarketStats{
		Skill:         skill,
		MarketMedian:  Round6(Median(survivingPrices)),
		PriceRange:    PriceRange{Min: minOf(prices), Max: maxOf(prices)},
		AvgPrice:      Round6(stat.Mean(survivingPrices, nil)),
		TotalAgents:   len(services),
		OutlierAgents: outliers,
	}
	if len(survivingPrices) > 1 {
		stats.StdDeviation = Round6(stat.StdDev(survivingPrices, nil))
	}

	stats.AvgUptime = Round3(averageOptional(surviving, func(svc marketplace.AgentService) *float64 { return svc.Uptime }))
	stats.AvgLatency = Round3(averageOptional(surviving, func(svc marketplace.AgentService) *float64 { return svc.AvgLatencyMs }))
	stats.AvgRating = Round3(averageOptional(surviving, func(svc marketplace.AgentService) *float64 { return svc.Rating }))

	return stats, nil
}

// averageOptional averages an optional field across services, ignoring
// agents that do not report it.
func averageOptional(services []marketplace.AgentService, field func(marketplace.AgentService) *float64) float64 {
	var total float64
	var n int
	for _, svc := range services {
		if v := field(svc); v != nil {
			total += *v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
