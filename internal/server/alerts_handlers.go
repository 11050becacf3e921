package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentmarket/pricewatch/internal/modules/alerts"
)

// handleCreateAlert registers a new price alert for the caller.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertType      string   `json:"alert_type"`
		TargetSkill    string   `json:"target_skill"`
		TargetProvider string   `json:"target_provider"`
		MaxPrice       *float64 `json:"max_price"`
		NotifyMethod   string   `json:"notify_method"`
		WebhookURL     string   `json:"webhook_url"`
		Email          string   `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := s.alerts.Create(alerts.Alert{
		AgentID:        agentFrom(r).ID,
		AlertType:      req.AlertType,
		TargetSkill:    req.TargetSkill,
		TargetProvider: req.TargetProvider,
		MaxPrice:       req.MaxPrice,
		NotifyMethod:   req.NotifyMethod,
		WebhookURL:     req.WebhookURL,
		Email:          req.Email,
	}, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, alert)
}

// handleListAlerts returns the caller's alerts, newest first.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := s.alerts.ListByAgent(agentFrom(r).ID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list alerts")
		respondError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetAlert returns one of the caller's alerts.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := s.ownedAlert(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// handleUpdateAlertStatus pauses, resumes, or expires an alert.
func (s *Server) handleUpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	alert, ok := s.ownedAlert(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.alerts.UpdateStatus(alert.ID, req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if updated == nil {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleDeleteAlert removes an alert and its trigger history.
func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := s.ownedAlert(w, r)
	if !ok {
		return
	}

	deleted, err := s.alerts.Delete(alert.ID)
	if err != nil {
		s.log.Error().Err(err).Int("alert_id", alert.ID).Msg("Alert delete failed")
		respondError(w, http.StatusInternalServerError, "failed to delete alert")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// handleAlertHistory returns an alert's recent firings.
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	alert, ok := s.ownedAlert(w, r)
	if !ok {
		return
	}

	history, err := s.alerts.History(alert.ID)
	if err != nil {
		s.log.Error().Err(err).Int("alert_id", alert.ID).Msg("Alert history lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load alert history")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// ownedAlert resolves the alertID path parameter and enforces that the
// caller owns it. Foreign alerts read as not found.
func (s *Server) ownedAlert(w http.ResponseWriter, r *http.Request) (*alerts.Alert, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "alertID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return nil, false
	}

	alert, err := s.alerts.Get(id)
	if err != nil {
		s.log.Error().Err(err).Int("alert_id", id).Msg("Alert lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load alert")
		return nil, false
	}
	if alert == nil || alert.AgentID != agentFrom(r).ID {
		respondError(w, http.StatusNotFound, "alert not found")
		return nil, false
	}
	return alert, true
}
