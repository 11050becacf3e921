// Package marketplace provides the store layer for third-party agent
// services cataloged from the bazaar.
package marketplace

import (
	"strings"
	"time"
)

// AgentService is a priced offering of a third-party agent.
type AgentService struct {
	AgentID      string   `json:"agent_id"`
	AgentName    string   `json:"agent_name"`
	Skill        string   `json:"skill"` // canonical "category/subcategory"
	Price        float64  `json:"price"`
	Unit         string   `json:"unit"`
	Currency     string   `json:"currency"`
	Uptime       *float64 `json:"uptime,omitempty"`
	AvgLatencyMs *float64 `json:"avg_latency_ms,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	ReviewsCount int      `json:"reviews_count"`
	X402Endpoint string   `json:"x402_endpoint,omitempty"`
	BazaarURL    string   `json:"bazaar_url,omitempty"`
	Metadata     string   `json:"metadata,omitempty"` // raw JSON blob

	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryEntry is one archived price/health observation for an agent.
type HistoryEntry struct {
	ID           int       `json:"id"`
	AgentID      string    `json:"agent_id"`
	Price        float64   `json:"price"`
	Uptime       *float64  `json:"uptime,omitempty"`
	AvgLatencyMs *float64  `json:"avg_latency_ms,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// CanonicalSkill normalizes a skill identifier to "category/subcategory";
// a bare category becomes "category/default".
func CanonicalSkill(skill string) string {
	skill = strings.TrimSpace(strings.ToLower(skill))
	if skill == "" {
		return ""
	}
	if !strings.Contains(skill, "/") {
		return skill + "/default"
	}
	return skill
}
