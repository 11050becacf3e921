package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

const (
	bazaarTimeout = 10 * time.Second
	crawlerAgent  = "pricewatch-crawler/1.0"
	maxBazaarBody = 4 << 20
)

// bazaarListing is one agent entry in the bazaar catalog feed.
type bazaarListing struct {
	AgentID      string          `json:"agent_id"`
	Name         string          `json:"name"`
	Skill        string          `json:"skill"`
	Price        float64         `json:"price"`
	Unit         string          `json:"unit"`
	Currency     string          `json:"currency"`
	Uptime       *float64        `json:"uptime"`
	AvgLatencyMs *float64        `json:"avg_latency_ms"`
	Rating       *float64        `json:"rating"`
	ReviewsCount int             `json:"reviews_count"`
	Endpoint     string          `json:"endpoint"`
	BazaarURL    string          `json:"bazaar_url"`
	Metadata     json.RawMessage `json:"metadata"`
	X402         *struct {
		Payment struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"payment"`
	} `json:"x402"`
}

type bazaarCatalog struct {
	Items []bazaarListing `json:"items"`
}

// BazaarCrawler pulls agent service listings from the x402 bazaar. A
// dead or unreachable bazaar falls back to a local catalog snapshot so
// the marketplace side keeps working offline.
type BazaarCrawler struct {
	url      string
	fallback string
	client   *http.Client
	log      zerolog.Logger
}

// NewBazaarCrawler creates a new bazaar crawler
func NewBazaarCrawler(url, fallbackPath string, log zerolog.Logger) *BazaarCrawler {
	return &BazaarCrawler{
		url:      url,
		fallback: fallbackPath,
		client:   &http.Client{Timeout: bazaarTimeout},
		log:      log.With().Str("component", "bazaar-crawler").Logger(),
	}
}

// FetchAgents returns the current agent listings, normalized to
// marketplace rows.
func (c *BazaarCrawler) FetchAgents(ctx context.Context) ([]marketplace.AgentService, error) {
	data, err := c.fetchLive(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Live bazaar fetch failed, using local snapshot")
		data, err = c.fetchSnapshot()
		if err != nil {
			return nil, err
		}
	}

	var cat bazaarCatalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse bazaar catalog: %w", err)
	}

	services := make([]marketplace.AgentService, 0, len(cat.Items))
	for _, item := range cat.Items {
		svc, err := normalizeListing(item)
		if err != nil {
			c.log.Debug().Err(err).Str("agent_id", item.AgentID).Msg("Skipping malformed bazaar listing")
			continue
		}
		services = append(services, *svc)
	}

	return services, nil
}

func (c *BazaarCrawler) fetchLive(ctx context.Context) ([]byte, error) {
	if c.url == "" {
		return nil, fmt.Errorf("no bazaar url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bazaar request: %w", err)
	}
	req.Header.Set("User-Agent", crawlerAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bazaar catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bazaar returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBazaarBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read bazaar response: %w", err)
	}
	return data, nil
}

func (c *BazaarCrawler) fetchSnapshot() ([]byte, error) {
	if c.fallback == "" {
		return nil, fmt.Errorf("no bazaar snapshot configured")
	}
	data, err := os.ReadFile(c.fallback)
	if err != nil {
		return nil, fmt.Errorf("failed to read bazaar snapshot: %w", err)
	}
	return data, nil
}

// normalizeListing maps one feed entry onto a marketplace row. Pricing
// comes from the flat price field or, for x402-native listings, the
// payment amount.
func normalizeListing(item bazaarListing) (*marketplace.AgentService, error) {
	if item.AgentID == "" {
		return nil, fmt.Errorf("listing has no agent_id")
	}
	if item.Skill == "" {
		return nil, fmt.Errorf("listing has no skill")
	}

	price := item.Price
	currency := item.Currency
	if price <= 0 && item.X402 != nil {
		parsed, err := strconv.ParseFloat(item.X402.Payment.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse x402 amount %q: %w", item.X402.Payment.Amount, err)
		}
		price = parsed
		if currency == "" {
			currency = item.X402.Payment.Currency
		}
	}
	if price <= 0 {
		return nil, fmt.Errorf("listing has no usable price")
	}

	if currency == "" {
		currency = "USD"
	}
	unit := item.Unit
	if unit == "" {
		unit = "request"
	}

	metadata := ""
	if len(item.Metadata) > 0 {
		metadata = string(item.Metadata)
	}

	return &marketplace.AgentService{
		AgentID:      item.AgentID,
		AgentName:    item.Name,
		Skill:        marketplace.CanonicalSkill(item.Skill),
		Price:        price,
		Unit:         unit,
		Currency:     currency,
		Uptime:       item.Uptime,
		AvgLatencyMs: item.AvgLatencyMs,
		Rating:       item.Rating,
		ReviewsCount: item.ReviewsCount,
		X402Endpoint: item.Endpoint,
		BazaarURL:    item.BazaarURL,
		Metadata:     metadata,
	}, nil
}
