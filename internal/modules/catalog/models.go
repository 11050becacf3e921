// Package catalog provides the store layer for first-party providers,
// their billable services, and the fused rates observed for them.
package catalog

import "time"

// Provider is a first-party AI vendor whose price list is crawled.
type Provider struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service is one billable offering of a provider.
type Service struct {
	ID          int    `json:"id"`
	ProviderID  int    `json:"provider_id"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Description string `json:"description"`
}

// Rate is the current fused rate for a service. At most one exists per
// service; older observations live in rate_history.
type Rate struct {
	ID          int       `json:"id"`
	ServiceID   int       `json:"service_id"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Unit        string    `json:"unit"`
	PricingType string    `json:"pricing_type"`
	Confidence  float64   `json:"confidence"`
	SourceCount int       `json:"source_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// RateObservation is a current rate joined to its service and provider,
// the shape consumed by the aggregation engine.
type RateObservation struct {
	ServiceID   int       `json:"service_id"`
	Provider    string    `json:"provider"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Unit        string    `json:"unit"`
	SourceCount int       `json:"source_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CategoryPair is one DISTINCT (category, subcategory) combination.
type CategoryPair struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// Key renders the pair the way aggregate maps are keyed:
// "category" or "category:subcategory".
func (p CategoryPair) Key() string {
	if p.Subcategory == "" {
		return p.Category
	}
	return p.Category + ":" + p.Subcategory
}

// ProviderRates is a provider with the current rates of its services,
// used by the browsing and comparison endpoints.
type ProviderRates struct {
	Provider Provider      `json:"provider"`
	Services []ServiceRate `json:"services"`
}

// ServiceRate is a service joined to its current rate.
type ServiceRate struct {
	Service Service `json:"service"`
	Rate    *Rate   `json:"rate,omitempty"`
}

// SkillVolatility ranks a skill by dispersion of its recent history.
type SkillVolatility struct {
	Category     string  `json:"category"`
	Subcategory  string  `json:"subcategory"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Volatility   float64 `json:"volatility"` // coefficient of variation
	Observations int     `json:"observations"`
}
