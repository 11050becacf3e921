package alerts

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmarket/pricewatch/internal/database"
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

func insertAgent(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	res, err := db.Exec("INSERT INTO agents (name, api_key, created_at) VALUES (?, ?, ?)", name, name+"-key", time.Now().Unix())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return int(id)
}

func floatPtr(v float64) *float64 { return &v }

func TestAlertValidate(t *testing.T) {
	tests := []struct {
		name    string
		alert   Alert
		wantErr bool
	}{
		{
			name:  "valid webhook price drop",
			alert: Alert{AlertType: TypePriceDrop, TargetSkill: "translation", NotifyMethod: NotifyWebhook, WebhookURL: "https://example.com/hook"},
		},
		{
			name:  "valid websocket threshold",
			alert: Alert{AlertType: TypePriceThreshold, TargetSkill: "translation", MaxPrice: floatPtr(0.01), NotifyMethod: NotifyWebsocket},
		},
		{
			name:    "unknown type",
			alert:   Alert{AlertType: "price_surge", TargetSkill: "x", NotifyMethod: NotifyWebsocket},
			wantErr: true,
		},
		{
			name:    "webhook without url",
			alert:   Alert{AlertType: TypePriceDrop, TargetSkill: "x", NotifyMethod: NotifyWebhook},
			wantErr: true,
		},
		{
			name:    "email without address",
			alert:   Alert{AlertType: TypePriceDrop, TargetSkill: "x", NotifyMethod: NotifyEmail},
			wantErr: true,
		},
		{
			name:    "threshold without max price",
			alert:   Alert{AlertType: TypePriceThreshold, TargetSkill: "x", NotifyMethod: NotifyWebsocket},
			wantErr: true,
		},
		{
			name:    "threshold with non-positive max price",
			alert:   Alert{AlertType: TypePriceThreshold, TargetSkill: "x", MaxPrice: floatPtr(0), NotifyMethod: NotifyWebsocket},
			wantErr: true,
		},
		{
			name:    "no target",
			alert:   Alert{AlertType: TypeAnyChange, NotifyMethod: NotifyWebsocket},
			wantErr: true,
		},
		{
			name:  "provider target only",
			alert: Alert{AlertType: TypeAnyChange, TargetProvider: "openai", NotifyMethod: NotifyWebsocket},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_CreateAndList(t *testing.T) {
	db := setupTestDB(t)
	m := NewManager(db, testLog())
	agentID := insertAgent(t, db, "demo")
	now := time.Now()

	first, err := m.Create(Alert{
		AgentID:      agentID,
		AlertType:    TypePriceDrop,
		TargetSkill:  "Translation",
		NotifyMethod: NotifyWebsocket,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, first.Status)
	// Skill is canonicalized on the way in.
	assert.Equal(t, "translation/default", first.TargetSkill)

	second, err := m.Create(Alert{
		AgentID:      agentID,
		AlertType:    TypePriceThreshold,
		TargetSkill:  "translation",
		MaxPrice:     floatPtr(0.01),
		NotifyMethod: NotifyWebsocket,
	}, now.Add(time.Minute))
	require.NoError(t, err)

	list, err := m.ListByAgent(agentID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first.
	assert.Equal(t, second.ID, list[0].ID)

	active, err := m.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestManager_StatusTransitions(t *testing.T) {
	db := setupTestDB(t)
	m := NewManager(db, testLog())
	agentID := insertAgent(t, db, "demo")

	alert, err := m.Create(Alert{AgentID: agentID, AlertType: TypeAnyChange, TargetSkill: "x", NotifyMethod: NotifyWebsocket}, time.Now())
	require.NoError(t, err)

	paused, err := m.UpdateStatus(alert.ID, StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	// Paused alerts leave the evaluation set.
	active, err := m.ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = m.UpdateStatus(alert.ID, "snoozed")
	assert.Error(t, err)

	missing, err := m.UpdateStatus(9999, StatusActive)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestManager_Delete(t *testing.T) {
	db := setupTestDB(t)
	m := NewManager(db, testLog())
	agentID := insertAgent(t, db, "demo")

	alert, err := m.Create(Alert{AgentID: agentID, AlertType: TypeAnyChange, TargetSkill: "x", NotifyMethod: NotifyWebsocket}, time.Now())
	require.NoError(t, err)

	_, err = m.RecordTrigger(Trigger{AlertID: alert.ID, OldPrice: 2, NewPrice: 1}, time.Now())
	require.NoError(t, err)

	deleted, err := m.Delete(alert.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	// Cascade removes the trigger history.
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM alert_triggers WHERE alert_id = ?", alert.ID).Scan(&count))
	assert.Equal(t, 0, count)

	deleted, err = m.Delete(alert.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestManager_TriggersAndHistory(t *testing.T) {
	db := setupTestDB(t)
	m := NewManager(db, testLog())
	agentID := insertAgent(t, db, "demo")
	now := time.Now()

	alert, err := m.Create(Alert{AgentID: agentID, AlertType: TypePriceDrop, TargetSkill: "x", NotifyMethod: NotifyWebsocket}, now)
	require.NoError(t, err)

	none, err := m.LastTrigger(alert.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := m.RecordTrigger(Trigger{AlertID: alert.ID, OldPrice: 0.01, NewPrice: 0.009, Skill: "x"}, now)
	require.NoError(t, err)
	_, err = m.RecordTrigger(Trigger{AlertID: alert.ID, OldPrice: 0.009, NewPrice: 0.008, Skill: "x"}, now.Add(time.Minute))
	require.NoError(t, err)

	last, err := m.LastTrigger(alert.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 0.008, last.NewPrice)

	history, err := m.History(alert.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0.008, history[0].NewPrice)

	// last_triggered is stamped on the alert.
	reloaded, err := m.Get(alert.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastTriggered)

	// MarkNotified flips the flag.
	assert.False(t, last.Notified)
	m.MarkNotified(first.ID)
	history, err = m.History(alert.ID)
	require.NoError(t, err)
	assert.True(t, history[1].Notified)
}
