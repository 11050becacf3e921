package aggregation

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmarket/pricewatch/internal/database"
	"github.com/agentmarket/pricewatch/internal/modules/catalog"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

type aggHarness struct {
	db        *sql.DB
	service   *Service
	providers *catalog.ProviderRepository
	rates     *catalog.RateRepository
	market    *marketplace.Repository
}

func newAggHarness(t *testing.T) *aggHarness {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.New(nil).Level(zerolog.Disabled)
	conn := db.Conn()

	providers := catalog.NewProviderRepository(conn, log)
	rates := catalog.NewRateRepository(conn, log)
	market := marketplace.NewRepository(conn, log)

	return &aggHarness{
		db:        conn,
		service:   NewService(rates, market, log),
		providers: providers,
		rates:     rates,
		market:    market,
	}
}

func (h *aggHarness) addRate(t *testing.T, provider string, price float64, at time.Time) int {
	t.Helper()

	p, err := h.providers.GetOrCreate(provider, "", "first_party")
	require.NoError(t, err)
	svc, err := h.providers.GetOrCreateService(p.ID, "llm", "gpt-4o", "")
	require.NoError(t, err)
	require.NoError(t, h.rates.InsertObservation(catalog.Rate{
		ServiceID: svc.ID,
		Price:     price,
		Currency:  "USD",
		Unit:      "1k_tokens",
	}, at))
	return svc.ID
}

func ptr(v float64) *float64 { return &v }

func TestAggregateRates_MedianAndOutliers(t *testing.T) {
	h := newAggHarness(t)
	now := time.Now()

	for i, price := range []float64{0.01, 0.011, 0.012, 0.013, 0.014, 10.0} {
		h.addRate(t, []string{"a", "b", "c", "d", "e", "f"}[i], price, now)
	}

	agg, err := h.service.AggregateRates("llm", "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, agg)

	// The 10.0 reseller price is fenced out; median of the rest.
	assert.Equal(t, 0.012, agg.Price)
	assert.Equal(t, 5, agg.SourceCount)
	assert.Equal(t, 1, agg.Meta.OutliersRemoved)
	assert.Equal(t, 6, agg.Meta.TotalRatesCollected)
	assert.True(t, agg.Meta.MedianUsed)
	assert.Equal(t, "USD", agg.Currency)
	assert.Greater(t, agg.Confidence, 0.0)
	assert.LessOrEqual(t, agg.Confidence, 1.0)
	// Fresh data with no day-old history reads as stable.
	assert.Equal(t, TrendStable, agg.Trend)
}

func TestAggregateRates_Empty(t *testing.T) {
	h := newAggHarness(t)

	agg, err := h.service.AggregateRates("llm", "")
	require.NoError(t, err)
	assert.Nil(t, agg)
}

func TestAggregateRates_TrendDeadZone(t *testing.T) {
	h := newAggHarness(t)
	now := time.Now()

	// Yesterday's price sits in history; today's current rate replaced it.
	svcID := h.addRate(t, "solo", 10.0, now.Add(-36*time.Hour))

	setCurrent := func(price float64, at time.Time) {
		require.NoError(t, h.rates.InsertObservation(catalog.Rate{
			ServiceID: svcID,
			Price:     price,
			Currency:  "USD",
			Unit:      "1k_tokens",
		}, at))
	}

	// +4% stays inside the dead zone.
	setCurrent(10.4, now)
	agg, err := h.service.AggregateRates("llm", "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, TrendStable, agg.Trend)

	// Exactly +5% is a move, not dead zone.
	setCurrent(10.5, now.Add(10*time.Minute))
	agg, err = h.service.AggregateRates("llm", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, TrendUp, agg.Trend)

	// Exactly -5% likewise.
	setCurrent(9.5, now.Add(20*time.Minute))
	agg, err = h.service.AggregateRates("llm", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, TrendDown, agg.Trend)
}

func TestAggregateAllCategories(t *testing.T) {
	h := newAggHarness(t)
	now := time.Now()

	h.addRate(t, "a", 0.01, now)

	p, err := h.providers.GetOrCreate("a", "", "first_party")
	require.NoError(t, err)
	svc, err := h.providers.GetOrCreateService(p.ID, "embedding", "", "")
	require.NoError(t, err)
	require.NoError(t, h.rates.InsertObservation(catalog.Rate{
		ServiceID: svc.ID, Price: 0.0001, Currency: "USD", Unit: "1k_tokens",
	}, now))

	all, err := h.service.AggregateAllCategories()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Contains(t, all, "llm:gpt-4o")
	assert.Contains(t, all, "embedding")
	assert.Equal(t, 0.0001, all["embedding"].Price)
}

func TestAggregateAgentServiceStats(t *testing.T) {
	h := newAggHarness(t)
	now := time.Now()

	rows := []marketplace.AgentService{
		{AgentID: "a1", AgentName: "A1", Skill: "translation/default", Price: 0.01, Unit: "request", Currency: "USD", Uptime: ptr(0.99), AvgLatencyMs: ptr(120), Rating: ptr(4.5)},
		{AgentID: "a2", AgentName: "A2", Skill: "translation/default", Price: 0.012, Unit: "request", Currency: "USD", Uptime: ptr(0.95), Rating: ptr(4.0)},
		{AgentID: "a3", AgentName: "A3", Skill: "translation/default", Price: 0.014, Unit: "request", Currency: "USD"},
	}
	for _, row := range rows {
		_, err := h.market.Upsert(row, now)
		require.NoError(t, err)
	}

	stats, err := h.service.AggregateAgentServiceStats("translation")
	require.NoError(t, err)
	require.NotNil(t, stats)

	assert.Equal(t, "translation/default", stats.Skill)
	assert.Equal(t, 0.012, stats.MarketMedian)
	assert.Equal(t, 0.01, stats.PriceRange.Min)
	assert.Equal(t, 0.014, stats.PriceRange.Max)
	assert.Equal(t, 3, stats.TotalAgents)
	assert.Empty(t, stats.OutlierAgents)
	// Optional fields average only over agents that report them.
	assert.InDelta(t, 0.97, stats.AvgUptime, 1e-9)
	assert.InDelta(t, 120, stats.AvgLatency, 1e-9)
	assert.InDelta(t, 4.25, stats.AvgRating, 1e-9)
}

func TestAggregateAgentServiceStats_NoAgents(t *testing.T) {
	h := newAggHarness(t)

	stats, err := h.service.AggregateAgentServiceStats("alchemy")
	require.NoError(t, err)
	assert.Nil(t, stats)
}
