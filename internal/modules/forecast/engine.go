package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/agentmarket/pricewatch/internal/modules/aggregation"
	"github.com/agentmarket/pricewatch/internal/modules/catalog"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

const (
	// Exponential smoothing factor. Heavier weight on history keeps the
	// level stable against single-day spikes.
	smoothingAlpha = 0.3

	historyDays     = 180
	backtestDays    = 210
	horizonDays     = 7
	minBacktestDays = 60

	modelVersion = "ses_v1"

	// Price floor keeps predictions positive even under a steep
	// negative trend.
	priceFloor = 1e-4

	// Confidence decays per day of horizon.
	horizonDecay = 0.95
)

var featuresUsed = mustJSON([]string{"historical_prices", "exponential_smoothing", "trend_adjustment"})

// ErrInsufficientHistory is returned when a skill has too little rate
// history to forecast or backtest.
var ErrInsufficientHistory = errors.New("insufficient price history")

// Prediction is one forecast day before persistence.
type Prediction struct {
	Date       string  `json:"date"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
}

// SkillForecast is the full output of one forecasting run.
type SkillForecast struct {
	Skill         string       `json:"skill"`
	Trend         string       `json:"trend"`
	TrendStrength float64      `json:"trend_strength"`
	CurrentLevel  float64      `json:"current_level"`
	HistoryDays   int          `json:"history_days"`
	Predictions   []Prediction `json:"predictions"`
}

// Backtest holds holdout accuracy metrics for a skill's model.
type Backtest struct {
	Skill       string  `json:"skill"`
	TrainDays   int     `json:"train_days"`
	TestDays    int     `json:"test_days"`
	MAE         float64 `json:"mae"`
	RMSE        float64 `json:"rmse"`
	Accuracy    float64 `json:"accuracy"`
	ModelUsable bool    `json:"model_usable"`
}

// RunSummary reports a full generation sweep.
type RunSummary struct {
	Skills             []string `json:"skills"`
	ForecastsGenerated int      `json:"forecastsGenerated"`
	Errors             []string `json:"errors"`
}

// Engine produces 7-day price forecasts per skill using simple
// exponential smoothing with a linear trend adjustment.
type Engine struct {
	rates *catalog.RateRepository
	store *Repository
	log   zerolog.Logger
}

// NewEngine creates a new forecast engine
func NewEngine(rates *catalog.RateRepository, store *Repository, log zerolog.Logger) *Engine {
	return &Engine{
		rates: rates,
		store: store,
		log:   log.With().Str("component", "forecaster").Logger(),
	}
}

// ForecastSkill computes the 7-day forecast for one skill from its
// daily average price history.
func (e *Engine) ForecastSkill(skill string, now time.Time) (*SkillForecast, error) {
	skill = marketplace.CanonicalSkill(skill)
	category, subcategory := splitSkill(skill)

	points, err := e.rates.DailyAverages(category, subcategory, historyDays, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", skill, err)
	}
	if len(points) < 2 {
		return nil, ErrInsufficientHistory
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.AvgPrice
	}

	level := smooth(prices)
	slope := dailySlope(prices)
	mean := stat.Mean(prices, nil)

	fc := &SkillForecast{
		Skill:        skill,
		Trend:        classifyTrend(slope, mean),
		CurrentLevel: aggregation.Round6(level),
		HistoryDays:  len(points),
		Predictions:  make([]Prediction, 0, horizonDays),
	}
	if mean > 0 {
		fc.TrendStrength = aggregation.Round6(math.Abs(slope) / mean)
	}

	baseConfidence := confidenceBase(prices, mean)
	for i := 1; i <= horizonDays; i++ {
		predicted := level + slope*float64(i)
		if predicted < priceFloor {
			predicted = priceFloor
		}
		fc.Predictions = append(fc.Predictions, Prediction{
			Date:       now.UTC().AddDate(0, 0, i).Format("2006-01-02"),
			Price:      aggregation.Round6(predicted),
			Confidence: aggregation.Round3(clamp01(baseConfidence * math.Pow(horizonDecay, float64(i)))),
		})
	}

	return fc, nil
}

// GenerateAndStore forecasts one skill and persists the result.
func (e *Engine) GenerateAndStore(skill string, now time.Time) (*SkillForecast, error) {
	fc, err := e.ForecastSkill(skill, now)
	if err != nil {
		return nil, err
	}

	rows := make([]Forecast, len(fc.Predictions))
	for i, p := range fc.Predictions {
		rows[i] = Forecast{
			Skill:          fc.Skill,
			ForecastDate:   p.Date,
			PredictedPrice: p.Price,
			Confidence:     p.Confidence,
			ModelVersion:   modelVersion,
			FeaturesUsed:   featuresUsed,
		}
	}

	if err := e.store.ReplaceForecasts(fc.Skill, rows, now); err != nil {
		return nil, err
	}
	return fc, nil
}

// GenerateAll forecasts every skill with rate history. Per-skill
// failures are collected, not fatal; skills with too little history
// are silently skipped.
func (e *Engine) GenerateAll(now time.Time) (RunSummary, error) {
	pairs, err := e.rates.DistinctCategories()
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to enumerate skills: %w", err)
	}

	summary := RunSummary{Skills: []string{}, Errors: []string{}}
	for _, pair := range pairs {
		skill := joinSkill(pair.Category, pair.Subcategory)

		if _, err := e.GenerateAndStore(skill, now); err != nil {
			if errors.Is(err, ErrInsufficientHistory) {
				continue
			}
			e.log.Error().Err(err).Str("skill", skill).Msg("Forecast generation failed")
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", skill, err))
			continue
		}

		summary.Skills = append(summary.Skills, skill)
		summary.ForecastsGenerated += horizonDays
	}

	e.log.Info().
		Int("skills", len(summary.Skills)).
		Int("forecasts", summary.ForecastsGenerated).
		Int("errors", len(summary.Errors)).
		Msg("Forecast sweep complete")

	return summary, nil
}

// BacktestSkill trains on the first 80% of a longer history window and
// measures prediction error on the held-out tail.
func (e *Engine) BacktestSkill(skill string, now time.Time) (*Backtest, error) {
	skill = marketplace.CanonicalSkill(skill)
	category, subcategory := splitSkill(skill)

	points, err := e.rates.DailyAverages(category, subcategory, backtestDays, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load backtest history for %s: %w", skill, err)
	}
	if len(points) < minBacktestDays {
		return nil, ErrInsufficientHistory
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.AvgPrice
	}

	split := len(prices) * 8 / 10
	train, test := prices[:split], prices[split:]

	level := smooth(train)
	slope := dailySlope(train)

	var sumAbs, sumSq float64
	for i, actual := range test {
		predicted := level + slope*float64(i+1)
		if predicted < priceFloor {
			predicted = priceFloor
		}
		diff := predicted - actual
		sumAbs += math.Abs(diff)
		sumSq += diff * diff
	}

	n := float64(len(test))
	mae := sumAbs / n
	rmse := math.Sqrt(sumSq / n)
	meanTail := stat.Mean(test, nil)

	accuracy := 0.0
	if meanTail > 0 {
		accuracy = math.Max(0, 1-mae/meanTail)
	}

	return &Backtest{
		Skill:       skill,
		TrainDays:   len(train),
		TestDays:    len(test),
		MAE:         aggregation.Round6(mae),
		RMSE:        aggregation.Round6(rmse),
		Accuracy:    aggregation.Round3(accuracy),
		ModelUsable: accuracy >= 0.5,
	}, nil
}

// smooth runs simple exponential smoothing over the series, seeded
// from the first value.
func smooth(prices []float64) float64 {
	level := prices[0]
	for _, p := range prices[1:] {
		level = smoothingAlpha*p + (1-smoothingAlpha)*level
	}
	return level
}

// dailySlope fits a least-squares line over the series indexed by day.
func dailySlope(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	xs := make([]float64, len(prices))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, prices, nil, false)
	return slope
}

// classifyTrend compares the slope against a dead zone scaled to the
// price level.
func classifyTrend(slope, mean float64) string {
	threshold := 1e-4 * mean
	if slope > threshold {
		return aggregation.TrendUp
	}
	if slope < -threshold {
		return aggregation.TrendDown
	}
	return aggregation.TrendStable
}

// confidenceBase scores how trustworthy day-one predictions are:
// stable series and long histories score higher.
func confidenceBase(prices []float64, mean float64) float64 {
	cv := 0.0
	if mean > 0 && len(prices) > 1 {
		cv = stat.StdDev(prices, nil) / mean
	}
	dispersion := 1 / (1 + cv)
	coverage := math.Min(float64(len(prices))/float64(historyDays), 1)
	return dispersion * coverage
}

// splitSkill maps "category/subcategory" onto catalog columns. A bare
// category and the canonical "/default" suffix both read as no
// subcategory.
func splitSkill(skill string) (string, string) {
	category, subcategory, found := strings.Cut(strings.ToLower(strings.TrimSpace(skill)), "/")
	if !found || subcategory == "default" {
		return category, ""
	}
	return category, subcategory
}

// joinSkill renders catalog columns as a canonical skill key.
func joinSkill(category, subcategory string) string {
	if subcategory == "" {
		return category + "/default"
	}
	return category + "/" + subcategory
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
