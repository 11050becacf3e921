package crawler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

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

func testLog() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestDefaultCrawlers(t *testing.T) {
	crawlers := DefaultCrawlers()
	require.NotEmpty(t, crawlers)

	seen := make(map[string]bool)
	var total int
	for _, c := range crawlers {
		assert.False(t, seen[c.Name()], "duplicate crawler for %s", c.Name())
		seen[c.Name()] = true

		entries, err := c.Fetch(context.Background())
		require.NoError(t, err)
		for _, e := range entries {
			assert.Equal(t, c.Name(), e.Provider)
		}
		total += len(entries)
	}
	assert.Equal(t, len(catalog.ManualCatalog), total)
}

func TestNormalizeListing(t *testing.T) {
	t.Run("flat price", func(t *testing.T) {
		svc, err := normalizeListing(bazaarListing{
			AgentID: "agent-1",
			Name:    "Translator",
			Skill:   "Translation",
			Price:   0.01,
		})
		require.NoError(t, err)
		assert.Equal(t, "translation/default", svc.Skill)
		assert.Equal(t, 0.01, svc.Price)
		assert.Equal(t, "USD", svc.Currency)
		assert.Equal(t, "request", svc.Unit)
	})

	t.Run("x402 amount", func(t *testing.T) {
		listing := bazaarListing{AgentID: "agent-2", Skill: "ocr"}
		listing.X402 = &struct {
			Payment struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"payment"`
		}{}
		listing.X402.Payment.Amount = "0.005"
		listing.X402.Payment.Currency = "USDC"

		svc, err := normalizeListing(listing)
		require.NoError(t, err)
		assert.Equal(t, 0.005, svc.Price)
		assert.Equal(t, "USDC", svc.Currency)
	})

	t.Run("rejects", func(t *testing.T) {
		_, err := normalizeListing(bazaarListing{Skill: "x", Price: 1})
		assert.Error(t, err)

		_, err = normalizeListing(bazaarListing{AgentID: "a", Price: 1})
		assert.Error(t, err)

		_, err = normalizeListing(bazaarListing{AgentID: "a", Skill: "x"})
		assert.Error(t, err)

		bad := bazaarListing{AgentID: "a", Skill: "x"}
		bad.X402 = &struct {
			Payment struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"payment"`
		}{}
		bad.X402.Payment.Amount = "not-a-number"
		_, err = normalizeListing(bad)
		assert.Error(t, err)
	})
}

func TestBazaarCrawler_LiveFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, crawlerAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"items":[
			{"agent_id":"a1","name":"One","skill":"translation","price":0.01},
			{"agent_id":"","skill":"broken","price":0.01}
		]}`))
	}))
	defer srv.Close()

	c := NewBazaarCrawler(srv.URL, "", testLog())
	services, err := c.FetchAgents(context.Background())
	require.NoError(t, err)
	// The malformed listing is skipped, not fatal.
	require.Len(t, services, 1)
	assert.Equal(t, "a1", services[0].AgentID)
}

func TestBazaarCrawler_SnapshotFallback(t *testing.T) {
	snapshot := filepath.Join(t.TempDir(), "bazaar.json")
	require.NoError(t, os.WriteFile(snapshot, []byte(`{"items":[{"agent_id":"a1","skill":"translation","price":0.02}]}`), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewBazaarCrawler(srv.URL, snapshot, testLog())
	services, err := c.FetchAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, 0.02, services[0].Price)
}

func TestBazaarCrawler_NoSourceAvailable(t *testing.T) {
	c := NewBazaarCrawler("", "", testLog())
	_, err := c.FetchAgents(context.Background())
	assert.Error(t, err)
}

func orchestratorHarness(t *testing.T, bazaar *BazaarCrawler) (*Orchestrator, *catalog.RateRepository, *marketplace.Repository) {
	db := setupTestDB(t)
	log := testLog()

	providers := catalog.NewProviderRepository(db, log)
	rates := catalog.NewRateRepository(db, log)
	market := marketplace.NewRepository(db, log)

	return NewOrchestrator(DefaultCrawlers(), bazaar, providers, rates, market, log), rates, market
}

func TestOrchestrator_RunAllIngestsAndDedups(t *testing.T) {
	o, rates, _ := orchestratorHarness(t, nil)

	result := o.RunAll(context.Background())
	assert.Empty(t, result.Errors)
	assert.Equal(t, len(DefaultCrawlers()), result.ProvidersChecked)
	assert.Equal(t, len(catalog.ManualCatalog), result.NewRates)

	totals, err := rates.Totals()
	require.NoError(t, err)
	assert.Positive(t, totals["providers"])
	assert.Equal(t, len(catalog.ManualCatalog), totals["rates"])
	assert.Equal(t, len(catalog.ManualCatalog), totals["rate_history"])

	// An immediate second cycle lands inside the dedup window.
	result = o.RunAll(context.Background())
	assert.Equal(t, 0, result.NewRates)
}

func TestOrchestrator_BazaarUpserts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"agent_id":"a1","name":"One","skill":"translation","price":0.01,"uptime":0.99},
			{"agent_id":"a2","name":"Two","skill":"translation","price":0.02}
		]}`))
	}))
	defer srv.Close()

	o, _, market := orchestratorHarness(t, NewBazaarCrawler(srv.URL, "", testLog()))

	result := o.RunAll(context.Background())
	assert.Empty(t, result.Errors)
	assert.Equal(t, 2, result.AgentsChecked)
	assert.Equal(t, 2, result.AgentsUpdated)

	// Unchanged listings do not count as updates on the next cycle.
	result = o.RunAll(context.Background())
	assert.Equal(t, 2, result.AgentsChecked)
	assert.Equal(t, 0, result.AgentsUpdated)

	cheapest, err := market.CheapestBySkill("translation/default")
	require.NoError(t, err)
	require.NotNil(t, cheapest)
	assert.Equal(t, "a1", cheapest.AgentID)
	require.NotNil(t, cheapest.Uptime)
	assert.Equal(t, 0.99, *cheapest.Uptime)
}
