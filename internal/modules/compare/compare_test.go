package compare

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

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return db.Conn()
}

func testService(t *testing.T) (*Service, *catalog.ProviderRepository, *catalog.RateRepository, *marketplace.Repository) {
	db := setupTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	providers := catalog.NewProviderRepository(db, log)
	rates := catalog.NewRateRepository(db, log)
	market := marketplace.NewRepository(db, log)

	return NewService(rates, market, log), providers, rates, market
}

func floatPtr(v float64) *float64 { return &v }

func TestCompareProviders_RankingAndSavings(t *testing.T) {
	svc, providers, rates, _ := testService(t)
	now := time.Now()

	for _, entry := range []struct {
		name  string
		price float64
	}{
		{"cheap", 0.01},
		{"mid", 0.012},
		{"upper", 0.015},
		{"pricey", 0.025},
	} {
		p, err := providers.GetOrCreate(entry.name, "", "first_party")
		require.NoError(t, err)
		s, err := providers.GetOrCreateService(p.ID, "llm", "gpt-4o", "")
		require.NoError(t, err)
		require.NoError(t, rates.InsertObservation(catalog.Rate{ServiceID: s.ID, Price: entry.price, Currency: "USD", Unit: "1k_tokens"}, now))
	}

	result, err := svc.CompareProviders("llm", "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, result)

	// Median of {0.01, 0.012, 0.015, 0.025}.
	assert.InDelta(t, 0.0135, result.MarketMedian, 1e-9)

	require.Len(t, result.Offers, 4)
	assert.Equal(t, "cheap", result.Offers[0].Name)
	assert.Equal(t, 1, result.Offers[0].Ranking)
	assert.True(t, result.Offers[0].IsCheapest)
	assert.Equal(t, 4, result.Offers[3].Ranking)
	assert.False(t, result.Offers[3].IsCheapest)

	// Cheapest saves against the median, priciest overpays.
	assert.InDelta(t, (0.0135-0.01)/0.0135*100, result.Offers[0].SavingsPct, 0.001)
	assert.Negative(t, result.Offers[3].SavingsPct)

	// Without uptime or rating, best value is the cheapest offer.
	require.NotNil(t, result.BestValue)
	assert.Equal(t, "cheap", result.BestValue.Name)
}

func TestCompareProviders_EmptyCategory(t *testing.T) {
	svc, _, _, _ := testService(t)

	result, err := svc.CompareProviders("llm", "")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCompareAgents_ValueScoreBlendsQuality(t *testing.T) {
	svc, _, _, market := testService(t)
	now := time.Now()

	// Slightly pricier but far more reliable and better rated.
	_, err := market.Upsert(marketplace.AgentService{
		AgentID: "solid", AgentName: "Solid", Skill: "translation/default",
		Price: 0.012, Unit: "request", Currency: "USD",
		Uptime: floatPtr(0.999), Rating: floatPtr(5),
	}, now)
	require.NoError(t, err)

	_, err = market.Upsert(marketplace.AgentService{
		AgentID: "flaky", AgentName: "Flaky", Skill: "translation/default",
		Price: 0.011, Unit: "request", Currency: "USD",
		Uptime: floatPtr(0.2), Rating: floatPtr(1.5),
	}, now)
	require.NoError(t, err)

	_, err = market.Upsert(marketplace.AgentService{
		AgentID: "pricey", AgentName: "Pricey", Skill: "translation/default",
		Price: 0.05, Unit: "request", Currency: "USD",
		Uptime: floatPtr(0.99), Rating: floatPtr(4.8),
	}, now)
	require.NoError(t, err)

	result, err := svc.CompareAgents("translation")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "translation/default", result.Market)

	// Cheapest still ranks first by price.
	assert.Equal(t, "flaky", result.Offers[0].Name)
	assert.True(t, result.Offers[0].IsCheapest)

	// But reliability wins the value pick.
	require.NotNil(t, result.BestValue)
	assert.Equal(t, "solid", result.BestValue.Name)
}

func TestCompareAgents_UnknownSkill(t *testing.T) {
	svc, _, _, _ := testService(t)

	result, err := svc.CompareAgents("alchemy")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestValueScore_Neutrals(t *testing.T) {
	// No uptime or rating scores neutral on both.
	offer := RankedOffer{Price: 5}
	score := valueScore(offer, 10)
	assert.InDelta(t, 0.5*0.5+0.3*0.5+0.2*0.5, score, 1e-9)

	// Max-priced offer gets no price credit.
	worst := valueScore(RankedOffer{Price: 10}, 10)
	assert.InDelta(t, 0.3*0.5+0.2*0.5, worst, 1e-9)
}
