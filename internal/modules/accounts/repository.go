package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository handles agents, their budgets, and the request log.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new accounts repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// CreateAgent registers an agent and mints its API key. The key is
// returned exactly once, on this call.
func (r *Repository) CreateAgent(name string, now time.Time) (*Agent, error) {
	if name == "" {
		return nil, errors.New("agent name is required")
	}

	key := uuid.New().String()
	res, err := r.db.Exec(
		"INSERT INTO agents (name, api_key, created_at) VALUES (?, ?, ?)",
		name, key, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent id: %w", err)
	}

	r.log.Info().Int64("agent_id", id).Str("name", name).Msg("Agent registered")

	return &Agent{
		ID:        int(id),
		Name:      name,
		APIKey:    key,
		CreatedAt: now.UTC(),
	}, nil
}

// GetByAPIKey resolves an API key to its agent. Returns nil when the
// key is unknown.
func (r *Repository) GetByAPIKey(key string) (*Agent, error) {
	var a Agent
	var createdAt int64
	err := r.db.QueryRow(
		"SELECT id, name, created_at FROM agents WHERE api_key = ?", key,
	).Scan(&a.ID, &a.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

// GetAgent retrieves an agent by id. Returns nil when absent.
func (r *Repository) GetAgent(id int) (*Agent, error) {
	var a Agent
	var createdAt int64
	err := r.db.QueryRow(
		"SELECT id, name, created_at FROM agents WHERE id = ?", id,
	).Scan(&a.ID, &a.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

// ListAgents returns every registered agent. API keys are never read
// back out of the store.
func (r *Repository) ListAgents() ([]Agent, error) {
	rows, err := r.db.Query("SELECT id, name, created_at FROM agents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}

	return agents, nil
}

// CurrentBudget returns the agent's budget row for the period holding
// now, creating a zero-spent row on first access.
func (r *Repository) CurrentBudget(agentID int, now time.Time) (*Budget, error) {
	period := PeriodOf(now)

	b, err := r.budgetFor(agentID, period)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return b, nil
	}

	res, err := r.db.Exec(
		"INSERT INTO budgets (agent_id, monthly_limit, spent, period) VALUES (?, 0, 0, ?)",
		agentID, period,
	)
	if err != nil {
		// A concurrent caller may have created the row first.
		if existing, lookupErr := r.budgetFor(agentID, period); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create budget period: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read budget id: %w", err)
	}

	return &Budget{ID: int(id), AgentID: agentID, Period: period}, nil
}

// SetMonthlyLimit updates the cap on the current period's budget.
func (r *Repository) SetMonthlyLimit(agentID int, limit float64, now time.Time) (*Budget, error) {
	if limit < 0 {
		return nil, errors.New("monthly limit cannot be negative")
	}

	b, err := r.CurrentBudget(agentID, now)
	if err != nil {
		return nil, err
	}

	if _, err := r.db.Exec("UPDATE budgets SET monthly_limit = ? WHERE id = ?", limit, b.ID); err != nil {
		return nil, fmt.Errorf("failed to update monthly limit: %w", err)
	}
	b.MonthlyLimit = limit
	return b, nil
}

// RecordSpend adds a non-negative amount to the current period's spend.
func (r *Repository) RecordSpend(agentID int, amount float64, now time.Time) (*Budget, error) {
	if amount < 0 {
		return nil, errors.New("spend amount cannot be negative")
	}

	b, err := r.CurrentBudget(agentID, now)
	if err != nil {
		return nil, err
	}

	if _, err := r.db.Exec("UPDATE budgets SET spent = spent + ? WHERE id = ?", amount, b.ID); err != nil {
		return nil, fmt.Errorf("failed to record spend: %w", err)
	}
	b.Spent += amount
	return b, nil
}

// BudgetHistory returns the agent's budget rows across periods, newest
// period first.
func (r *Repository) BudgetHistory(agentID int) ([]Budget, error) {
	rows, err := r.db.Query(
		"SELECT id, agent_id, monthly_limit, spent, period FROM budgets WHERE agent_id = ? ORDER BY period DESC",
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load budget history: %w", err)
	}
	defer rows.Close()

	var budgets []Budget
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.ID, &b.AgentID, &b.MonthlyLimit, &b.Spent, &b.Period); err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate budgets: %w", err)
	}

	return budgets, nil
}

// LogRequest appends one routed request to the agent's log.
func (r *Repository) LogRequest(entry RequestLogEntry, now time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO request_log (agent_id, provider, category, cost, latency_ms, tokens_in, tokens_out, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.AgentID, entry.Provider, entry.Category, entry.Cost,
		entry.LatencyMs, entry.TokensIn, entry.TokensOut, entry.Status, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log request: %w", err)
	}
	return nil
}

// RecentRequests returns the agent's newest log entries, capped at limit.
func (r *Repository) RecentRequests(agentID, limit int) ([]RequestLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`
		SELECT id, agent_id, provider, category, cost, latency_ms, tokens_in, tokens_out, status, created_at
		FROM request_log WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load request log: %w", err)
	}
	defer rows.Close()

	var entries []RequestLogEntry
	for rows.Next() {
		var e RequestLogEntry
		var createdAt int64
		if err := rows.Scan(
			&e.ID, &e.AgentID, &e.Provider, &e.Category, &e.Cost,
			&e.LatencyMs, &e.TokensIn, &e.TokensOut, &e.Status, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request log entry: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request log: %w", err)
	}

	return entries, nil
}

func (r *Repository) budgetFor(agentID int, period string) (*Budget, error) {
	var b Budget
	err := r.db.QueryRow(
		"SELECT id, agent_id, monthly_limit, spent, period FROM budgets WHERE agent_id = ? AND period = ?",
		agentID, period,
	).Scan(&b.ID, &b.AgentID, &b.MonthlyLimit, &b.Spent, &b.Period)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return &b, nil
}
