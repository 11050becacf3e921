package alerts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

const defaultHistoryLimit = 50

// Manager owns the alert lifecycle: create, list, pause, delete, and
// the trigger history behind each alert.
type Manager struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewManager creates a new alert manager
func NewManager(db *sql.DB, log zerolog.Logger) *Manager {
	return &Manager{
		db:  db,
		log: log.With().Str("component", "alerts").Logger(),
	}
}

const alertColumns = `id, agent_id, alert_type, target_skill, target_provider, max_price,
notify_method, webhook_url, email, status, last_triggered, created_at`

// Create validates and stores a new alert. Skills are canonicalized
// before storage so evaluation matches crawled rows.
func (m *Manager) Create(alert Alert, now time.Time) (*Alert, error) {
	if alert.TargetSkill != "" {
		alert.TargetSkill = marketplace.CanonicalSkill(alert.TargetSkill)
	}
	if err := alert.Validate(); err != nil {
		return nil, err
	}

	res, err := m.db.Exec(`
		INSERT INTO price_alerts (agent_id, alert_type, target_skill, target_provider, max_price,
			notify_method, webhook_url, email, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.AgentID, alert.AlertType,
		nullString(alert.TargetSkill), nullString(alert.TargetProvider), nullFloat(alert.MaxPrice),
		alert.NotifyMethod, nullString(alert.WebhookURL), nullString(alert.Email),
		StatusActive, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert id: %w", err)
	}

	alert.ID = int(id)
	alert.Status = StatusActive
	alert.CreatedAt = now.UTC()

	m.log.Info().
		Int("alert_id", alert.ID).
		Int("agent_id", alert.AgentID).
		Str("type", alert.AlertType).
		Msg("Alert created")

	return &alert, nil
}

// Get retrieves one alert by id. Returns nil when absent.
func (m *Manager) Get(id int) (*Alert, error) {
	row := m.db.QueryRow("SELECT "+alertColumns+" FROM price_alerts WHERE id = ?", id)
	alert, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListByAgent returns an agent's alerts, newest first.
func (m *Manager) ListByAgent(agentID int) ([]Alert, error) {
	rows, err := m.db.Query(
		"SELECT "+alertColumns+" FROM price_alerts WHERE agent_id = ? ORDER BY created_at DESC, id DESC",
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListActive returns every active alert, oldest first, for evaluation.
func (m *Manager) ListActive() ([]Alert, error) {
	rows, err := m.db.Query(
		"SELECT "+alertColumns+" FROM price_alerts WHERE status = ? ORDER BY id",
		StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// Count returns the total number of alerts across all agents.
func (m *Manager) Count() (int, error) {
	var count int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM price_alerts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// UpdateStatus transitions an alert between active, paused, and
// expired. Returns the updated alert, nil when the alert is absent.
func (m *Manager) UpdateStatus(id int, status string) (*Alert, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("unknown alert status %q", status)
	}

	res, err := m.db.Exec("UPDATE price_alerts SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}

	return m.Get(id)
}

// Delete removes an alert and, via cascade, its trigger history.
// Returns false when the alert did not exist.
func (m *Manager) Delete(id int) (bool, error) {
	res, err := m.db.Exec("DELETE FROM price_alerts WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// RecordTrigger stores a firing and stamps the alert's last_triggered.
func (m *Manager) RecordTrigger(trigger Trigger, now time.Time) (*Trigger, error) {
	res, err := m.db.Exec(`
		INSERT INTO alert_triggers (alert_id, old_price, new_price, provider, skill, triggered_at, notified)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`,
		trigger.AlertID, trigger.OldPrice, trigger.NewPrice, trigger.Provider, trigger.Skill, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record trigger: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger id: %w", err)
	}

	if _, err := m.db.Exec("UPDATE price_alerts SET last_triggered = ? WHERE id = ?", now.Unix(), trigger.AlertID); err != nil {
		return nil, fmt.Errorf("failed to stamp last_triggered: %w", err)
	}

	trigger.ID = int(id)
	trigger.TriggeredAt = now.UTC()
	return &trigger, nil
}

// MarkNotified flags a trigger's notification as delivered. Best
// effort; failures are logged, not returned.
func (m *Manager) MarkNotified(triggerID int) {
	if _, err := m.db.Exec("UPDATE alert_triggers SET notified = 1 WHERE id = ?", triggerID); err != nil {
		m.log.Warn().Err(err).Int("trigger_id", triggerID).Msg("Failed to mark trigger notified")
	}
}

// LastTrigger returns an alert's most recent firing, nil when it has
// never fired.
func (m *Manager) LastTrigger(alertID int) (*Trigger, error) {
	row := m.db.QueryRow(`
		SELECT id, alert_id, old_price, new_price, provider, skill, triggered_at, notified
		FROM alert_triggers WHERE alert_id = ? ORDER BY triggered_at DESC, id DESC LIMIT 1
	`, alertID)
	trigger, err := scanTrigger(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last trigger: %w", err)
	}
	return trigger, nil
}

// History returns an alert's firings, newest first, capped at 50.
func (m *Manager) History(alertID int) ([]Trigger, error) {
	rows, err := m.db.Query(`
		SELECT id, alert_id, old_price, new_price, provider, skill, triggered_at, notified
		FROM alert_triggers WHERE alert_id = ? ORDER BY triggered_at DESC, id DESC LIMIT ?
	`, alertID, defaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert history: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate triggers: %w", err)
	}

	return triggers, nil
}

func collectAlerts(rows *sql.Rows) ([]Alert, error) {
	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

func scanAlert(scan func(dest ...interface{}) error) (*Alert, error) {
	var a Alert
	var skill, provider, webhook, email sql.NullString
	var maxPrice sql.NullFloat64
	var lastTriggered sql.NullInt64
	var createdAt int64

	err := scan(
		&a.ID, &a.AgentID, &a.AlertType, &skill, &provider, &maxPrice,
		&a.NotifyMethod, &webhook, &email, &a.Status, &lastTriggered, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.TargetSkill = skill.String
	a.TargetProvider = provider.String
	a.WebhookURL = webhook.String
	a.Email = email.String
	if maxPrice.Valid {
		a.MaxPrice = &maxPrice.Float64
	}
	if lastTriggered.Valid {
		t := time.Unix(lastTriggered.Int64, 0).UTC()
		a.LastTriggered = &t
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &a, nil
}

func scanTrigger(scan func(dest ...interface{}) error) (*Trigger, error) {
	var t Trigger
	var triggeredAt int64
	var notified int

	err := scan(&t.ID, &t.AlertID, &t.OldPrice, &t.NewPrice, &t.Provider, &t.Skill, &triggeredAt, &notified)
	if err != nil {
		return nil, err
	}

	t.TriggeredAt = time.Unix(triggeredAt, 0).UTC()
	t.Notified = notified != 0
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
