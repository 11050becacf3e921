package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleAllRates returns the fused aggregate for every category.
func (s *Server) handleAllRates(w http.ResponseWriter, r *http.Request) {
	aggregates, err := s.aggregator.AggregateAllCategories()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to aggregate categories")
		respondError(w, http.StatusInternalServerError, "failed to aggregate rates")
		return
	}
	respondJSON(w, http.StatusOK, aggregates)
}

// handleCategoryRate returns the fused aggregate for one category,
// optionally narrowed by a subcategory path segment or query parameter.
func (s *Server) handleCategoryRate(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	subcategory := chi.URLParam(r, "subcategory")
	if subcategory == "" {
		subcategory = r.URL.Query().Get("subcategory")
	}

	agg, err := s.aggregator.AggregateRates(category, subcategory)
	if err != nil {
		s.log.Error().Err(err).Str("category", category).Msg("Aggregation failed")
		respondError(w, http.StatusInternalServerError, "failed to aggregate rates")
		return
	}
	if agg == nil {
		respondError(w, http.StatusNotFound, "no rates for category")
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

// handleProviders lists providers with their current rates.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	sortByPrice := r.URL.Query().Get("sort")
	if sortByPrice != "" && sortByPrice != "asc" && sortByPrice != "desc" {
		respondError(w, http.StatusBadRequest, "sort must be asc or desc")
		return
	}

	providers, err := s.providers.ListWithRates(category, sortByPrice)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list providers")
		respondError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	respondJSON(w, http.StatusOK, providers)
}

// handleProviderByID returns one provider with its current rates.
func (s *Server) handleProviderByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "providerID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "provider id must be numeric")
		return
	}

	provider, err := s.providers.GetWithRates(id)
	if err != nil {
		s.log.Error().Err(err).Int("provider_id", id).Msg("Provider lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load provider")
		return
	}
	if provider == nil {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	respondJSON(w, http.StatusOK, provider)
}

// handleSkillStats returns market statistics for a skill's agent
// services.
func (s *Server) handleSkillStats(w http.ResponseWriter, r *http.Request) {
	skill := chi.URLParam(r, "skill")
	if sub := r.URL.Query().Get("subcategory"); sub != "" {
		skill = skill + "/" + sub
	}

	stats, err := s.aggregator.AggregateAgentServiceStats(skill)
	if err != nil {
		s.log.Error().Err(err).Str("skill", skill).Msg("Stats aggregation failed")
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	if stats == nil {
		respondError(w, http.StatusNotFound, "no agents offer this skill")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleStats reports store-wide totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.rates.Totals()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read catalog totals")
		respondError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	counts := []struct {
		name  string
		count func() (int, error)
	}{
		{"agent_services", s.market.Count},
		{"alerts", s.alerts.Count},
		{"forecasts", s.forecasts.Count},
	}
	for _, c := range counts {
		n, err := c.count()
		if err != nil {
			s.log.Error().Err(err).Str("table", c.name).Msg("Failed to read stats")
			respondError(w, http.StatusInternalServerError, "failed to read stats")
			return
		}
		totals[c.name] = n
	}

	respondJSON(w, http.StatusOK, totals)
}

// handleVolatility ranks skills by recent price dispersion.
func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 365 {
			respondError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = parsed
	}

	volatility, err := s.rates.VolatilityBySkill(days, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Volatility query failed")
		respondError(w, http.StatusInternalServerError, "failed to compute volatility")
		return
	}
	respondJSON(w, http.StatusOK, volatility)
}

// handleCompareProviders ranks provider rates within a category.
func (s *Server) handleCompareProviders(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		respondError(w, http.StatusBadRequest, "category is required")
		return
	}

	result, err := s.compare.CompareProviders(category, r.URL.Query().Get("subcategory"))
	if err != nil {
		s.log.Error().Err(err).Str("category", category).Msg("Provider comparison failed")
		respondError(w, http.StatusInternalServerError, "failed to compare providers")
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "no rates for category")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleTriggerCrawl runs a crawl cycle on demand.
func (s *Server) handleTriggerCrawl(w http.ResponseWriter, r *http.Request) {
	result := s.orchestrator.RunAll(r.Context())
	respondJSON(w, http.StatusOK, result)
}
