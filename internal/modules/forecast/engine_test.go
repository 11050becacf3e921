package forecast

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmarket/pricewatch/internal/database"
	"github.com/agentmarket/pricewatch/internal/modules/aggregation"
	"github.com/agentmarket/pricewatch/internal/modules/catalog"
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

type engineHarness struct {
	db     *sql.DB
	engine *Engine
	rates  *catalog.RateRepository
	store  *Repository
}

func newEngineHarness(t *testing.T) *engineHarness {
	db := setupTestDB(t)
	log := testLog()

	rates := catalog.NewRateRepository(db, log)
	store := NewRepository(db, log)

	return &engineHarness{
		db:     db,
		engine: NewEngine(rates, store, log),
		rates:  rates,
		store:  store,
	}
}

// seedHistory writes one rate_history row per day, ending yesterday,
// and leaves the last price as the current rate.
func (h *engineHarness) seedHistory(t *testing.T, category, subcategory string, prices []float64, now time.Time) {
	t.Helper()

	providers := catalog.NewProviderRepository(h.db, testLog())
	provider, err := providers.GetOrCreate("seed-provider", "", "first_party")
	require.NoError(t, err)
	svc, err := providers.GetOrCreateService(provider.ID, category, subcategory, "")
	require.NoError(t, err)

	for i, price := range prices {
		recordedAt := now.AddDate(0, 0, -(len(prices) - i)).Unix()
		_, err := h.db.Exec(
			"INSERT INTO rate_history (service_id, price, currency, unit, recorded_at) VALUES (?, ?, 'USD', '1k_tokens', ?)",
			svc.ID, price, recordedAt,
		)
		require.NoError(t, err)
	}

	last := len(prices) - 1
	require.NoError(t, h.rates.InsertObservation(catalog.Rate{
		ServiceID: svc.ID,
		Price:     prices[last],
		Currency:  "USD",
		Unit:      "1k_tokens",
	}, now.AddDate(0, 0, -1)))
}

func linearSeries(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestSmooth(t *testing.T) {
	assert.Equal(t, 10.0, smooth([]float64{10}))
	assert.InDelta(t, 13.0, smooth([]float64{10, 20}), 1e-9)
	// Constant series stays put.
	assert.InDelta(t, 5.0, smooth([]float64{5, 5, 5, 5}), 1e-9)
}

func TestDailySlope(t *testing.T) {
	assert.Equal(t, 0.0, dailySlope([]float64{7}))
	assert.InDelta(t, 1.0, dailySlope([]float64{1, 2, 3, 4, 5}), 1e-9)
	assert.InDelta(t, -0.5, dailySlope([]float64{4, 3.5, 3, 2.5}), 1e-9)
	assert.InDelta(t, 0.0, dailySlope([]float64{3, 3, 3}), 1e-9)
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, aggregation.TrendUp, classifyTrend(0.01, 10))
	assert.Equal(t, aggregation.TrendDown, classifyTrend(-0.01, 10))
	// Inside the dead zone scaled to the level.
	assert.Equal(t, aggregation.TrendStable, classifyTrend(0.0005, 10))
	assert.Equal(t, aggregation.TrendStable, classifyTrend(0, 10))
}

func TestForecastSkill_RisingSeries(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	h.seedHistory(t, "llm", "gpt-4o", linearSeries(0.01, 0.0001, 90), now)

	fc, err := h.engine.ForecastSkill("llm/gpt-4o", now)
	require.NoError(t, err)
	require.NotNil(t, fc)

	assert.Equal(t, "llm/gpt-4o", fc.Skill)
	assert.Equal(t, aggregation.TrendUp, fc.Trend)
	assert.Equal(t, 90, fc.HistoryDays)
	require.Len(t, fc.Predictions, 7)

	// Rising series keeps rising, day over day.
	for i := 1; i < len(fc.Predictions); i++ {
		assert.Greater(t, fc.Predictions[i].Price, fc.Predictions[i-1].Price)
	}

	// Confidence decays with the horizon and stays in (0, 1].
	for i, p := range fc.Predictions {
		assert.Greater(t, p.Confidence, 0.0)
		assert.LessOrEqual(t, p.Confidence, 1.0)
		if i > 0 {
			assert.LessOrEqual(t, p.Confidence, fc.Predictions[i-1].Confidence)
		}
	}

	// Dates are consecutive days starting tomorrow.
	assert.Equal(t, now.AddDate(0, 0, 1).Format("2006-01-02"), fc.Predictions[0].Date)
	assert.Equal(t, now.AddDate(0, 0, 7).Format("2006-01-02"), fc.Predictions[6].Date)
}

func TestForecastSkill_FloorsAtPositive(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	// Steep collapse would predict negative prices without the floor.
	h.seedHistory(t, "llm", "cheap", linearSeries(0.006, -0.0001, 60), now)

	fc, err := h.engine.ForecastSkill("llm/cheap", now)
	require.NoError(t, err)
	assert.Equal(t, aggregation.TrendDown, fc.Trend)
	for _, p := range fc.Predictions {
		assert.GreaterOrEqual(t, p.Price, 1e-4)
	}
}

func TestForecastSkill_InsufficientHistory(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	h.seedHistory(t, "llm", "new", []float64{0.01}, now)

	_, err := h.engine.ForecastSkill("llm/new", now)
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = h.engine.ForecastSkill("llm/ghost", now)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestGenerateAndStore(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	h.seedHistory(t, "llm", "gpt-4o", linearSeries(0.01, 0.0001, 90), now)

	fc, err := h.engine.GenerateAndStore("llm/gpt-4o", now)
	require.NoError(t, err)
	require.NotNil(t, fc)

	stored, err := h.store.BySkill("llm/gpt-4o")
	require.NoError(t, err)
	require.Len(t, stored, 7)
	assert.Equal(t, "ses_v1", stored[0].ModelVersion)
	assert.JSONEq(t, `["historical_prices","exponential_smoothing","trend_adjustment"]`, stored[0].FeaturesUsed)

	// Regeneration replaces, not duplicates.
	_, err = h.engine.GenerateAndStore("llm/gpt-4o", now)
	require.NoError(t, err)
	stored, err = h.store.BySkill("llm/gpt-4o")
	require.NoError(t, err)
	assert.Len(t, stored, 7)
}

func TestGenerateAll(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	h.seedHistory(t, "llm", "gpt-4o", linearSeries(0.01, 0.0001, 90), now)
	// Too thin to forecast; skipped without an error.
	h.seedHistory(t, "embedding", "small", []float64{0.001}, now)

	summary, err := h.engine.GenerateAll(now)
	require.NoError(t, err)
	assert.Equal(t, []string{"llm/gpt-4o"}, summary.Skills)
	assert.Equal(t, 7, summary.ForecastsGenerated)
	assert.Empty(t, summary.Errors)
}

func TestBacktestSkill(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	h.seedHistory(t, "llm", "gpt-4o", linearSeries(0.01, 0.00005, 100), now)

	bt, err := h.engine.BacktestSkill("llm/gpt-4o", now)
	require.NoError(t, err)
	require.NotNil(t, bt)

	assert.Equal(t, 80, bt.TrainDays)
	assert.Equal(t, 20, bt.TestDays)
	assert.GreaterOrEqual(t, bt.MAE, 0.0)
	assert.GreaterOrEqual(t, bt.RMSE, bt.MAE)
	assert.GreaterOrEqual(t, bt.Accuracy, 0.0)
	assert.LessOrEqual(t, bt.Accuracy, 1.0)
	// A clean linear series backtests well.
	assert.True(t, bt.ModelUsable)
}

func TestBacktestSkill_InsufficientHistory(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	h.seedHistory(t, "llm", "gpt-4o", linearSeries(0.01, 0.0001, 30), now)

	_, err := h.engine.BacktestSkill("llm/gpt-4o", now)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestRepository_ReplaceForecastsPrunesStale(t *testing.T) {
	h := newEngineHarness(t)
	now := time.Now().UTC()

	// A stale forecast for yesterday and an old batch.
	_, err := h.db.Exec(`
		INSERT INTO price_forecasts (skill, forecast_date, predicted_price, confidence, model_version, features_used, generated_at)
		VALUES ('llm/old', ?, 0.01, 0.5, 'ses_v1', '[]', ?)
	`, now.AddDate(0, 0, -1).Format("2006-01-02"), now.AddDate(0, 0, -10).Unix())
	require.NoError(t, err)

	require.NoError(t, h.store.ReplaceForecasts("llm/new", []Forecast{{
		ForecastDate:   now.AddDate(0, 0, 1).Format("2006-01-02"),
		PredictedPrice: 0.02,
		Confidence:     0.7,
		ModelVersion:   "ses_v1",
		FeaturesUsed:   "[]",
	}}, now))

	stale, err := h.store.BySkill("llm/old")
	require.NoError(t, err)
	assert.Empty(t, stale)

	fresh, err := h.store.BySkill("llm/new")
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}
