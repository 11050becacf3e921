package accounts

import "time"

// Agent is a registered marketplace consumer. APIKey is only populated
// on the create path; reads never return it.
type Agent struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Budget tracks an agent's spend against a monthly cap. Period is
// "YYYY-MM".
type Budget struct {
	ID           int     `json:"id"`
	AgentID      int     `json:"agent_id"`
	MonthlyLimit float64 `json:"monthly_limit"`
	Spent        float64 `json:"spent"`
	Period       string  `json:"period"`
}

// Remaining is the unspent part of the cap, floored at zero.
func (b Budget) Remaining() float64 {
	left := b.MonthlyLimit - b.Spent
	if left < 0 {
		return 0
	}
	return left
}

// RequestLogEntry records one routed upstream call made on behalf of
// an agent.
type RequestLogEntry struct {
	ID        int       `json:"id"`
	AgentID   int       `json:"agent_id"`
	Provider  string    `json:"provider"`
	Category  string    `json:"category"`
	Cost      float64   `json:"cost"`
	LatencyMs int       `json:"latency_ms"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PeriodOf formats a timestamp as the budget period it falls in.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
