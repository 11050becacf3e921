package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentmarket/pricewatch/internal/modules/forecast"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

// handleForecast returns the 7-day forecast for a skill, serving the
// stored batch when present and computing on demand otherwise.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	skill := skillParam(r)

	stored, err := s.forecasts.BySkill(skill)
	if err != nil {
		s.log.Error().Err(err).Str("skill", skill).Msg("Forecast lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load forecast")
		return
	}
	if len(stored) > 0 {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"skill":     skill,
			"forecasts": stored,
		})
		return
	}

	fc, err := s.forecaster.GenerateAndStore(skill, time.Now())
	if err != nil {
		if errors.Is(err, forecast.ErrInsufficientHistory) {
			respondError(w, http.StatusNotFound, "not enough price history to forecast")
			return
		}
		s.log.Error().Err(err).Str("skill", skill).Msg("Forecast generation failed")
		respondError(w, http.StatusInternalServerError, "failed to generate forecast")
		return
	}
	respondJSON(w, http.StatusOK, fc)
}

// handleForecastAccuracy backtests the model on held-out history.
func (s *Server) handleForecastAccuracy(w http.ResponseWriter, r *http.Request) {
	skill := skillParam(r)

	backtest, err := s.forecaster.BacktestSkill(skill, time.Now())
	if err != nil {
		if errors.Is(err, forecast.ErrInsufficientHistory) {
			respondError(w, http.StatusNotFound, "not enough price history to backtest")
			return
		}
		s.log.Error().Err(err).Str("skill", skill).Msg("Backtest failed")
		respondError(w, http.StatusInternalServerError, "failed to backtest forecast")
		return
	}
	respondJSON(w, http.StatusOK, backtest)
}

// handleForecastStatus summarizes the stored forecast corpus.
func (s *Server) handleForecastStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.forecasts.Count()
	if err != nil {
		s.log.Error().Err(err).Msg("Forecast count failed")
		respondError(w, http.StatusInternalServerError, "failed to read forecast status")
		return
	}

	latest, err := s.forecasts.LatestGeneratedAt()
	if err != nil {
		s.log.Error().Err(err).Msg("Forecast status lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to read forecast status")
		return
	}

	status := map[string]interface{}{
		"stored_forecasts": count,
	}
	if !latest.IsZero() {
		status["last_generated_at"] = latest.Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, status)
}

// handleGenerateForecasts runs a full forecast sweep on demand.
func (s *Server) handleGenerateForecasts(w http.ResponseWriter, r *http.Request) {
	summary, err := s.forecaster.GenerateAll(time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Forecast sweep failed")
		respondError(w, http.StatusInternalServerError, "failed to generate forecasts")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func skillParam(r *http.Request) string {
	skill := chi.URLParam(r, "skill")
	if sub := r.URL.Query().Get("subcategory"); sub != "" {
		skill = skill + "/" + sub
	}
	return marketplace.CanonicalSkill(skill)
}
