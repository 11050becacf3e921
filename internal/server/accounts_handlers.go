package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agentmarket/pricewatch/internal/modules/accounts"
)

// handleRegisterAgent creates an agent and returns its API key. The
// key is only ever visible in this response.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	agent, err := s.accounts.CreateAgent(req.Name, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Agent registration failed")
		respondError(w, http.StatusInternalServerError, "failed to register agent")
		return
	}

	respondJSON(w, http.StatusCreated, agent)
}

// handleWhoAmI returns the authenticated agent, without its key.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, agentFrom(r))
}

// handleListAgents lists registered agents. Keys are minted once at
// registration and never listed.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.accounts.ListAgents()
	if err != nil {
		s.log.Error().Err(err).Msg("Agent listing failed")
		respondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

// handleGetBudget returns the current period's budget.
func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	budget, err := s.accounts.CurrentBudget(agentFrom(r).ID, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Budget lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load budget")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"budget":    budget,
		"remaining": budget.Remaining(),
	})
}

// handleSetBudget updates the monthly cap.
func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MonthlyLimit float64 `json:"monthly_limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	budget, err := s.accounts.SetMonthlyLimit(agentFrom(r).ID, req.MonthlyLimit, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, budget)
}

// handleRecordSpend adds to the current period's spend and optionally
// logs the routed request behind it.
func (s *Server) handleRecordSpend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    float64 `json:"amount"`
		Provider  string  `json:"provider"`
		Category  string  `json:"category"`
		LatencyMs int     `json:"latency_ms"`
		TokensIn  int     `json:"tokens_in"`
		TokensOut int     `json:"tokens_out"`
		Status    string  `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent := agentFrom(r)
	now := time.Now()

	budget, err := s.accounts.RecordSpend(agent.ID, req.Amount, now)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Provider != "" || req.Category != "" {
		entry := accounts.RequestLogEntry{
			AgentID:   agent.ID,
			Provider:  req.Provider,
			Category:  req.Category,
			Cost:      req.Amount,
			LatencyMs: req.LatencyMs,
			TokensIn:  req.TokensIn,
			TokensOut: req.TokensOut,
			Status:    req.Status,
		}
		if err := s.accounts.LogRequest(entry, now); err != nil {
			s.log.Warn().Err(err).Int("agent_id", agent.ID).Msg("Failed to log request")
		}
	}

	respondJSON(w, http.StatusOK, budget)
}

// handleBudgetHistory lists the agent's budgets across periods.
func (s *Server) handleBudgetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.accounts.BudgetHistory(agentFrom(r).ID)
	if err != nil {
		s.log.Error().Err(err).Msg("Budget history lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load budget history")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// handleRecentRequests lists the agent's recent routed requests.
func (s *Server) handleRecentRequests(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	entries, err := s.accounts.RecentRequests(agentFrom(r).ID, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Request log lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load request log")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
