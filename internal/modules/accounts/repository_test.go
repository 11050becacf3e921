package accounts

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

func testRepo(t *testing.T) *Repository {
	return NewRepository(setupTestDB(t), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestCreateAgent(t *testing.T) {
	repo := testRepo(t)

	agent, err := repo.CreateAgent("demo", time.Now())
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.NotEmpty(t, agent.APIKey)
	assert.Greater(t, agent.ID, 0)

	// The key resolves back to the agent, without exposing the key.
	resolved, err := repo.GetByAPIKey(agent.APIKey)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, agent.ID, resolved.ID)
	assert.Empty(t, resolved.APIKey)

	_, err = repo.CreateAgent("", time.Now())
	assert.Error(t, err)
}

func TestGetByAPIKey_Unknown(t *testing.T) {
	repo := testRepo(t)

	agent, err := repo.GetByAPIKey("not-a-key")
	require.NoError(t, err)
	assert.Nil(t, agent)
}

func TestCurrentBudget_LazyCreation(t *testing.T) {
	repo := testRepo(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	agent, err := repo.CreateAgent("demo", now)
	require.NoError(t, err)

	budget, err := repo.CurrentBudget(agent.ID, now)
	require.NoError(t, err)
	require.NotNil(t, budget)
	assert.Equal(t, "2026-08", budget.Period)
	assert.Equal(t, 0.0, budget.Spent)
	assert.Equal(t, 0.0, budget.MonthlyLimit)

	// Same period resolves to the same row.
	again, err := repo.CurrentBudget(agent.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, budget.ID, again.ID)

	// A new month opens a fresh row.
	nextMonth, err := repo.CurrentBudget(agent.ID, now.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.NotEqual(t, budget.ID, nextMonth.ID)
	assert.Equal(t, "2026-09", nextMonth.Period)
}

func TestRecordSpend(t *testing.T) {
	repo := testRepo(t)
	now := time.Now()

	agent, err := repo.CreateAgent("demo", now)
	require.NoError(t, err)

	_, err = repo.SetMonthlyLimit(agent.ID, 10, now)
	require.NoError(t, err)

	budget, err := repo.RecordSpend(agent.ID, 2.5, now)
	require.NoError(t, err)
	assert.Equal(t, 2.5, budget.Spent)
	assert.Equal(t, 7.5, budget.Remaining())

	budget, err = repo.RecordSpend(agent.ID, 9, now)
	require.NoError(t, err)
	assert.Equal(t, 11.5, budget.Spent)
	// Overspend floors remaining at zero.
	assert.Equal(t, 0.0, budget.Remaining())

	_, err = repo.RecordSpend(agent.ID, -1, now)
	assert.Error(t, err)

	_, err = repo.SetMonthlyLimit(agent.ID, -5, now)
	assert.Error(t, err)
}

func TestBudgetHistory(t *testing.T) {
	repo := testRepo(t)
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	agent, err := repo.CreateAgent("demo", now)
	require.NoError(t, err)

	_, err = repo.RecordSpend(agent.ID, 1, now.AddDate(0, -1, 0))
	require.NoError(t, err)
	_, err = repo.RecordSpend(agent.ID, 2, now)
	require.NoError(t, err)

	history, err := repo.BudgetHistory(agent.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest period first.
	assert.Equal(t, "2026-08", history[0].Period)
	assert.Equal(t, "2026-07", history[1].Period)
}

func TestRequestLog(t *testing.T) {
	repo := testRepo(t)
	now := time.Now()

	agent, err := repo.CreateAgent("demo", now)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := repo.LogRequest(RequestLogEntry{
			AgentID:   agent.ID,
			Provider:  "openai",
			Category:  "llm",
			Cost:      0.002,
			LatencyMs: 150 + i,
			TokensIn:  100,
			TokensOut: 50,
			Status:    "ok",
		}, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	entries, err := repo.RecentRequests(agent.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, 152, entries[0].LatencyMs)
	assert.Equal(t, 151, entries[1].LatencyMs)
}
