package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/database"
)

// Window inside which an identical (service, price, unit) observation is
// treated as a duplicate and discarded.
const dedupWindow = 5 * time.Minute

// RateRepository handles current rates and the append-only observation log.
type RateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRateRepository creates a new rate repository
func NewRateRepository(db *sql.DB, log zerolog.Logger) *RateRepository {
	return &RateRepository{
		db:  db,
		log: log.With().Str("repo", "rate").Logger(),
	}
}

// IsDuplicate reports whether an identical observation for the service
// was already accepted inside the dedup window.
func (r *RateRepository) IsDuplicate(serviceID int, price float64, unit string, now time.Time) (bool, error) {
	cutoff := now.Add(-dedupWindow).Unix()

	var exists int
	err := r.db.QueryRow(
		"SELECT 1 FROM rate_history WHERE service_id = ? AND price = ? AND unit = ? AND recorded_at > ? LIMIT 1",
		serviceID, price, unit, cutoff,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate rate: %w", err)
	}
	return true, nil
}

// InsertObservation replaces the service's current rate and appends the
// observation to rate_history, both inside one transaction.
func (r *RateRepository) InsertObservation(rate Rate, now time.Time) error {
	ts := now.Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO rates (service_id, price, currency, unit, pricing_type, confidence, source_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(service_id) DO UPDATE SET
				price = excluded.price,
				currency = excluded.currency,
				unit = excluded.unit,
				pricing_type = excluded.pricing_type,
				confidence = excluded.confidence,
				source_count = excluded.source_count,
				created_at = excluded.created_at
		`, rate.ServiceID, rate.Price, rate.Currency, rate.Unit, rate.PricingType, rate.Confidence, rate.SourceCount, ts); err != nil {
			return fmt.Errorf("failed to upsert current rate: %w", err)
		}

		if _, err := tx.Exec(
			"INSERT INTO rate_history (service_id, price, currency, unit, recorded_at) VALUES (?, ?, ?, ?, ?)",
			rate.ServiceID, rate.Price, rate.Currency, rate.Unit, ts,
		); err != nil {
			return fmt.Errorf("failed to append rate history: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().
		Int("service_id", rate.ServiceID).
		Float64("price", rate.Price).
		Msg("Rate observation accepted")

	return nil
}

// ObservationsByCategory loads all current rates joined to services and
// providers, filtered by category and, when non-empty, subcategory.
func (r *RateRepository) ObservationsByCategory(category, subcategory string) ([]RateObservation, error) {
	query := `
		SELECT r.service_id, p.name, s.category, s.subcategory,
		       r.price, r.currency, r.unit, r.source_count, r.created_at
		FROM rates r
		JOIN services s ON s.id = r.service_id
		JOIN providers p ON p.id = s.provider_id
		WHERE s.category = ?
	`
	args := []interface{}{category}
	if subcategory != "" {
		query += " AND s.subcategory = ?"
		args = append(args, subcategory)
	}
	query += " ORDER BY r.price"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate observations: %w", err)
	}
	defer rows.Close()

	var observations []RateObservation
	for rows.Next() {
		var obs RateObservation
		var updatedAt int64
		if err := rows.Scan(
			&obs.ServiceID, &obs.Provider, &obs.Category, &obs.Subcategory,
			&obs.Price, &obs.Currency, &obs.Unit, &obs.SourceCount, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rate observation: %w", err)
		}
		obs.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rate observations: %w", err)
	}

	return observations, nil
}

// MostRecentByProvider returns the most recent current rate belonging to
// the named provider, with its service coordinates. Returns nil when the
// provider has no rates.
func (r *RateRepository) MostRecentByProvider(provider string) (*RateObservation, error) {
	row := r.db.QueryRow(`
		SELECT r.service_id, p.name, s.category, s.subcategory,
		       r.price, r.currency, r.unit, r.source_count, r.created_at
		FROM rates r
		JOIN services s ON s.id = r.service_id
		JOIN providers p ON p.id = s.provider_id
		WHERE p.name = ?
		ORDER BY r.created_at DESC
		LIMIT 1
	`, provider)

	var obs RateObservation
	var updatedAt int64
	err := row.Scan(
		&obs.ServiceID, &obs.Provider, &obs.Category, &obs.Subcategory,
		&obs.Price, &obs.Currency, &obs.Unit, &obs.SourceCount, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get most recent rate for provider: %w", err)
	}
	obs.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &obs, nil
}

// HistoricalPriceBefore returns the most recent rate_history price for a
// service recorded at or before the cutoff. Returns nil when no such row
// exists.
func (r *RateRepository) HistoricalPriceBefore(serviceID int, cutoff time.Time) (*float64, error) {
	var price float64
	err := r.db.QueryRow(
		"SELECT price FROM rate_history WHERE service_id = ? AND recorded_at <= ? ORDER BY recorded_at DESC LIMIT 1",
		serviceID, cutoff.Unix(),
	).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get historical price: %w", err)
	}
	return &price, nil
}

// DistinctCategories enumerates every (category, subcategory) pair that
// currently has at least one rate.
func (r *RateRepository) DistinctCategories() ([]CategoryPair, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT s.category, s.subcategory
		FROM rates r
		JOIN services s ON s.id = r.service_id
		ORDER BY s.category, s.subcategory
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct categories: %w", err)
	}
	defer rows.Close()

	var pairs []CategoryPair
	for rows.Next() {
		var p CategoryPair
		if err := rows.Scan(&p.Category, &p.Subcategory); err != nil {
			return nil, fmt.Errorf("failed to scan category pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category pairs: %w", err)
	}

	return pairs, nil
}

// DailyPoint is one day of averaged history for the forecast engine.
type DailyPoint struct {
	Day      string // YYYY-MM-DD (UTC)
	AvgPrice float64
}

// DailyAverages groups rate_history into per-day AVG(price) for the last
// `days` days, matching on category and, when non-empty, subcategory.
// Rows come back oldest first.
func (r *RateRepository) DailyAverages(category, subcategory string, days int, now time.Time) ([]DailyPoint, error) {
	since := now.AddDate(0, 0, -days).Unix()

	query := `
		SELECT date(h.recorded_at, 'unixepoch') AS day, AVG(h.price)
		FROM rate_history h
		JOIN services s ON s.id = h.service_id
		WHERE h.recorded_at >= ? AND s.category = ?
	`
	args := []interface{}{since, category}
	if subcategory != "" {
		query += " AND s.subcategory = ?"
		args = append(args, subcategory)
	}
	query += " GROUP BY day ORDER BY day"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily averages: %w", err)
	}
	defer rows.Close()

	var points []DailyPoint
	for rows.Next() {
		var p DailyPoint
		if err := rows.Scan(&p.Day, &p.AvgPrice); err != nil {
			return nil, fmt.Errorf("failed to scan daily average: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily averages: %w", err)
	}

	return points, nil
}

// VolatilityBySkill ranks categories by the coefficient of variation of
// their last `days` days of history, most volatile first.
func (r *RateRepository) VolatilityBySkill(days int, now time.Time) ([]SkillVolatility, error) {
	since := now.AddDate(0, 0, -days).Unix()

	rows, err := r.db.Query(`
		SELECT s.category, s.subcategory, AVG(h.price), COUNT(*)
		FROM rate_history h
		JOIN services s ON s.id = h.service_id
		WHERE h.recorded_at >= ?
		GROUP BY s.category, s.subcategory
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load volatility groups: %w", err)
	}
	defer rows.Close()

	var result []SkillVolatility
	for rows.Next() {
		var v SkillVolatility
		if err := rows.Scan(&v.Category, &v.Subcategory, &v.Mean, &v.Observations); err != nil {
			return nil, fmt.Errorf("failed to scan volatility row: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate volatility rows: %w", err)
	}

	// SQLite has no stddev aggregate; second pass per group.
	for i := range result {
		v := &result[i]
		query := `
			SELECT h.price FROM rate_history h
			JOIN services s ON s.id = h.service_id
			WHERE h.recorded_at >= ? AND s.category = ? AND s.subcategory = ?
		`
		priceRows, err := r.db.Query(query, since, v.Category, v.Subcategory)
		if err != nil {
			return nil, fmt.Errorf("failed to load volatility prices: %w", err)
		}

		var sumSq float64
		var n int
		for priceRows.Next() {
			var price float64
			if err := priceRows.Scan(&price); err != nil {
				priceRows.Close()
				return nil, fmt.Errorf("failed to scan volatility price: %w", err)
			}
			d := price - v.Mean
			sumSq += d * d
			n++
		}
		priceRows.Close()
		if err := priceRows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate volatility prices: %w", err)
		}

		if n > 1 {
			v.StdDev = math.Sqrt(sumSq / float64(n-1))
		}
		if v.Mean != 0 {
			v.Volatility = v.StdDev / v.Mean
		}
	}

	sortVolatility(result)
	return result, nil
}

// Totals returns store-wide counters for the stats endpoint.
func (r *RateRepository) Totals() (map[string]int, error) {
	totals := make(map[string]int)
	queries := map[string]string{
		"providers":    "SELECT COUNT(*) FROM providers",
		"services":     "SELECT COUNT(*) FROM services",
		"rates":        "SELECT COUNT(*) FROM rates",
		"rate_history": "SELECT COUNT(*) FROM rate_history",
	}
	for name, query := range queries {
		var count int
		if err := r.db.QueryRow(query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", name, err)
		}
		totals[name] = count
	}
	return totals, nil
}

func sortVolatility(result []SkillVolatility) {
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Volatility > result[j].Volatility
	})
}
