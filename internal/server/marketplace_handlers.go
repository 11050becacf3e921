package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleAgentServices lists cataloged agent services.
func (s *Server) handleAgentServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 200 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	services, err := s.market.List(q.Get("skill"), q.Get("sort"), q.Get("order"), limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, services)
}

// handleCompareAgents ranks agents offering a skill.
func (s *Server) handleCompareAgents(w http.ResponseWriter, r *http.Request) {
	skill := r.URL.Query().Get("skill")
	if skill == "" {
		respondError(w, http.StatusBadRequest, "skill is required")
		return
	}

	result, err := s.compare.CompareAgents(skill)
	if err != nil {
		s.log.Error().Err(err).Str("skill", skill).Msg("Agent comparison failed")
		respondError(w, http.StatusInternalServerError, "failed to compare agents")
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "no agents offer this skill")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleAgentService returns one agent's current service listing.
func (s *Server) handleAgentService(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	svc, err := s.market.GetByAgentID(agentID)
	if err != nil {
		s.log.Error().Err(err).Str("agent_id", agentID).Msg("Agent lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load agent service")
		return
	}
	if svc == nil {
		respondError(w, http.StatusNotFound, "unknown agent service")
		return
	}
	respondJSON(w, http.StatusOK, svc)
}

// handleAgentServiceHistory returns an agent's archived prices.
func (s *Server) handleAgentServiceHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	svc, err := s.market.GetByAgentID(agentID)
	if err != nil {
		s.log.Error().Err(err).Str("agent_id", agentID).Msg("Agent lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load agent service")
		return
	}
	if svc == nil {
		respondError(w, http.StatusNotFound, "unknown agent service")
		return
	}

	history, err := s.market.History(agentID, 100)
	if err != nil {
		s.log.Error().Err(err).Str("agent_id", agentID).Msg("History lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": svc,
		"history": history,
	})
}
