package marketplace

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/database"
)

// Repository handles agent_services rows and their history trail.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new marketplace repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "marketplace").Logger(),
	}
}

const agentServiceColumns = `agent_id, agent_name, skill, price, unit, currency, uptime,
avg_latency_ms, rating, reviews_count, x402_endpoint, bazaar_url, metadata, last_updated, created_at`

// Upsert applies a crawled observation. A new agent is inserted; an
// existing agent whose price changed gets its old price archived to
// history and the current row updated. Identical prices are skipped.
// Returns true when the store changed.
func (r *Repository) Upsert(svc AgentService, now time.Time) (bool, error) {
	existing, err := r.GetByAgentID(svc.AgentID)
	if err != nil {
		return false, err
	}
	ts := now.Unix()

	if existing == nil {
		_, err := r.db.Exec(`
			INSERT INTO agent_services (`+agentServiceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			svc.AgentID, svc.AgentName, svc.Skill, svc.Price, svc.Unit, svc.Currency,
			nullFloat(svc.Uptime), nullFloat(svc.AvgLatencyMs), nullFloat(svc.Rating),
			svc.ReviewsCount, svc.X402Endpoint, svc.BazaarURL, metadataOrEmpty(svc.Metadata), ts, ts,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert agent service: %w", err)
		}

		r.log.Info().Str("agent_id", svc.AgentID).Str("skill", svc.Skill).Msg("Agent service cataloged")
		return true, nil
	}

	if existing.Price == svc.Price {
		return false, nil
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO agent_service_history (agent_id, price, uptime, avg_latency_ms, recorded_at) VALUES (?, ?, ?, ?, ?)",
			existing.AgentID, existing.Price, nullFloat(existing.Uptime), nullFloat(existing.AvgLatencyMs), ts,
		); err != nil {
			return fmt.Errorf("failed to archive agent service price: %w", err)
		}

		if _, err := tx.Exec(`
			UPDATE agent_services
			SET agent_name = ?, skill = ?, price = ?, unit = ?, currency = ?,
			    uptime = ?, avg_latency_ms = ?, rating = ?, reviews_count = ?,
			    x402_endpoint = ?, bazaar_url = ?, metadata = ?, last_updated = ?
			WHERE agent_id = ?
		`,
			svc.AgentName, svc.Skill, svc.Price, svc.Unit, svc.Currency,
			nullFloat(svc.Uptime), nullFloat(svc.AvgLatencyMs), nullFloat(svc.Rating),
			svc.ReviewsCount, svc.X402Endpoint, svc.BazaarURL, metadataOrEmpty(svc.Metadata), ts,
			svc.AgentID,
		); err != nil {
			return fmt.Errorf("failed to update agent service: %w", err)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	r.log.Info().
		Str("agent_id", svc.AgentID).
		Float64("old_price", existing.Price).
		Float64("new_price", svc.Price).
		Msg("Agent service price updated")

	return true, nil
}

// GetByAgentID retrieves an agent service by its external id. Returns
// nil when absent.
func (r *Repository) GetByAgentID(agentID string) (*AgentService, error) {
	row := r.db.QueryRow("SELECT "+agentServiceColumns+" FROM agent_services WHERE agent_id = ?", agentID)
	svc, err := scanAgentService(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent service: %w", err)
	}
	return svc, nil
}

// List returns agent services, optionally filtered by skill, sorted by
// price, rating, or uptime, capped at limit.
func (r *Repository) List(skill, sortBy, order string, limit int) ([]AgentService, error) {
	query := "SELECT " + agentServiceColumns + " FROM agent_services"
	var args []interface{}
	if skill != "" {
		query += " WHERE skill = ?"
		args = append(args, CanonicalSkill(skill))
	}

	column := "price"
	switch sortBy {
	case "rating":
		column = "rating"
	case "uptime":
		column = "uptime"
	case "", "price":
		column = "price"
	default:
		return nil, fmt.Errorf("unknown sort field %q", sortBy)
	}

	direction := "ASC"
	switch order {
	case "desc":
		direction = "DESC"
	case "", "asc":
	default:
		return nil, fmt.Errorf("unknown sort order %q", order)
	}

	query += fmt.Sprintf(" ORDER BY %s %s", column, direction)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent services: %w", err)
	}
	defer rows.Close()

	var services []AgentService
	for rows.Next() {
		svc, err := scanAgentService(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent service: %w", err)
		}
		services = append(services, *svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent services: %w", err)
	}

	return services, nil
}

// BySkill returns all agent services for a canonical skill, cheapest first.
func (r *Repository) BySkill(skill string) ([]AgentService, error) {
	return r.List(skill, "price", "asc", 0)
}

// CheapestBySkill returns the lowest-priced agent service for a skill.
// Returns nil when no agent offers the skill.
func (r *Repository) CheapestBySkill(skill string) (*AgentService, error) {
	row := r.db.QueryRow(
		"SELECT "+agentServiceColumns+" FROM agent_services WHERE skill = ? ORDER BY price ASC LIMIT 1",
		CanonicalSkill(skill),
	)
	svc, err := scanAgentService(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cheapest agent service: %w", err)
	}
	return svc, nil
}

// DistinctSkills enumerates every skill currently cataloged.
func (r *Repository) DistinctSkills() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT skill FROM agent_services ORDER BY skill")
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct skills: %w", err)
	}
	defer rows.Close()

	var skills []string
	for rows.Next() {
		var skill string
		if err := rows.Scan(&skill); err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		skills = append(skills, skill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate skills: %w", err)
	}

	return skills, nil
}

// History returns the archived observations for an agent, newest first.
func (r *Repository) History(agentID string, limit int) ([]HistoryEntry, error) {
	query := "SELECT id, agent_id, price, uptime, avg_latency_ms, recorded_at FROM agent_service_history WHERE agent_id = ? ORDER BY recorded_at DESC"
	args := []interface{}{agentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent service history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var uptime, latency sql.NullFloat64
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Price, &uptime, &latency, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if uptime.Valid {
			e.Uptime = &uptime.Float64
		}
		if latency.Valid {
			e.AvgLatencyMs = &latency.Float64
		}
		e.RecordedAt = time.Unix(recordedAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history entries: %w", err)
	}

	return entries, nil
}

// Count returns the number of cataloged agent services.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM agent_services").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count agent services: %w", err)
	}
	return count, nil
}

// scanAgentService reads one agent_services row via the provided scan
// function, which lets it serve both sql.Row and sql.Rows.
func scanAgentService(scan func(dest ...interface{}) error) (*AgentService, error) {
	var svc AgentService
	var uptime, latency, rating sql.NullFloat64
	var lastUpdated, createdAt int64

	err := scan(
		&svc.AgentID, &svc.AgentName, &svc.Skill, &svc.Price, &svc.Unit, &svc.Currency,
		&uptime, &latency, &rating, &svc.ReviewsCount,
		&svc.X402Endpoint, &svc.BazaarURL, &svc.Metadata, &lastUpdated, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if uptime.Valid {
		svc.Uptime = &uptime.Float64
	}
	if latency.Valid {
		svc.AvgLatencyMs = &latency.Float64
	}
	if rating.Valid {
		svc.Rating = &rating.Float64
	}
	svc.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	svc.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &svc, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func metadataOrEmpty(metadata string) string {
	if metadata == "" {
		return "{}"
	}
	return metadata
}
