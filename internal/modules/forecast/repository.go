package forecast

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Forecast is one stored per-day price prediction.
type Forecast struct {
	ID             int       `json:"id"`
	Skill          string    `json:"skill"`
	ForecastDate   string    `json:"forecast_date"`
	PredictedPrice float64   `json:"predicted_price"`
	Confidence     float64   `json:"confidence"`
	ModelVersion   string    `json:"model_version"`
	FeaturesUsed   string    `json:"features_used"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Repository stores and serves price forecasts.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new forecast repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "forecasts").Logger(),
	}
}

// ReplaceForecasts garbage-collects stale rows and inserts a fresh
// batch for one skill. Past forecast dates and anything generated more
// than a week ago are dropped first. Duplicate (skill, date) inserts
// are skipped rather than failed; the newer batch wins only for dates
// it actually cleared.
func (r *Repository) ReplaceForecasts(skill string, forecasts []Forecast, now time.Time) error {
	today := now.UTC().Format("2006-01-02")
	weekAgo := now.Add(-7 * 24 * time.Hour).Unix()

	if _, err := r.db.Exec(
		"DELETE FROM price_forecasts WHERE forecast_date < ? OR generated_at < ?",
		today, weekAgo,
	); err != nil {
		return fmt.Errorf("failed to prune stale forecasts: %w", err)
	}

	if _, err := r.db.Exec("DELETE FROM price_forecasts WHERE skill = ? AND forecast_date >= ?", skill, today); err != nil {
		return fmt.Errorf("failed to clear prior forecasts: %w", err)
	}

	for _, f := range forecasts {
		_, err := r.db.Exec(`
			INSERT INTO price_forecasts (skill, forecast_date, predicted_price, confidence, model_version, features_used, generated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			skill, f.ForecastDate, f.PredictedPrice, f.Confidence, f.ModelVersion, f.FeaturesUsed, now.Unix(),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				continue
			}
			return fmt.Errorf("failed to insert forecast: %w", err)
		}
	}

	return nil
}

// BySkill returns the stored forecasts for a skill, soonest date first.
func (r *Repository) BySkill(skill string) ([]Forecast, error) {
	rows, err := r.db.Query(`
		SELECT id, skill, forecast_date, predicted_price, confidence, model_version, features_used, generated_at
		FROM price_forecasts WHERE skill = ? ORDER BY forecast_date
	`, skill)
	if err != nil {
		return nil, fmt.Errorf("failed to load forecasts: %w", err)
	}
	defer rows.Close()

	var forecasts []Forecast
	for rows.Next() {
		var f Forecast
		var generatedAt int64
		if err := rows.Scan(&f.ID, &f.Skill, &f.ForecastDate, &f.PredictedPrice, &f.Confidence, &f.ModelVersion, &f.FeaturesUsed, &generatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan forecast: %w", err)
		}
		f.GeneratedAt = time.Unix(generatedAt, 0).UTC()
		forecasts = append(forecasts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate forecasts: %w", err)
	}

	return forecasts, nil
}

// Count returns the number of stored forecast rows.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM price_forecasts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count forecasts: %w", err)
	}
	return count, nil
}

// LatestGeneratedAt returns the newest generation timestamp, zero time
// when no forecasts exist.
func (r *Repository) LatestGeneratedAt() (time.Time, error) {
	var ts sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(generated_at) FROM price_forecasts").Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest generation time: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}
