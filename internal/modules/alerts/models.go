package alerts

import (
	"errors"
	"fmt"
	"time"
)

// Alert types.
const (
	TypePriceDrop      = "price_drop"
	TypePriceThreshold = "price_threshold"
	TypeAnyChange      = "any_change"
)

// Notification methods.
const (
	NotifyWebhook   = "webhook"
	NotifyEmail     = "email"
	NotifyWebsocket = "websocket"
)

// Alert statuses.
const (
	StatusActive  = "active"
	StatusPaused  = "paused"
	StatusExpired = "expired"
)

// Alert is a standing price watch owned by an agent.
type Alert struct {
	ID             int        `json:"id"`
	AgentID        int        `json:"agent_id"`
	AlertType      string     `json:"alert_type"`
	TargetSkill    string     `json:"target_skill,omitempty"`
	TargetProvider string     `json:"target_provider,omitempty"`
	MaxPrice       *float64   `json:"max_price,omitempty"`
	NotifyMethod   string     `json:"notify_method"`
	WebhookURL     string     `json:"webhook_url,omitempty"`
	Email          string     `json:"email,omitempty"`
	Status         string     `json:"status"`
	LastTriggered  *time.Time `json:"last_triggered,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Trigger records one firing of an alert.
type Trigger struct {
	ID          int       `json:"id"`
	AlertID     int       `json:"alert_id"`
	OldPrice    float64   `json:"old_price"`
	NewPrice    float64   `json:"new_price"`
	Provider    string    `json:"provider,omitempty"`
	Skill       string    `json:"skill,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
	Notified    bool      `json:"notified"`
}

// Validate checks an alert definition before it is stored.
func (a *Alert) Validate() error {
	switch a.AlertType {
	case TypePriceDrop, TypePriceThreshold, TypeAnyChange:
	default:
		return fmt.Errorf("unknown alert type %q", a.AlertType)
	}

	switch a.NotifyMethod {
	case NotifyWebhook:
		if a.WebhookURL == "" {
			return errors.New("webhook alerts require a webhook_url")
		}
	case NotifyEmail:
		if a.Email == "" {
			return errors.New("email alerts require an email address")
		}
	case NotifyWebsocket:
	default:
		return fmt.Errorf("unknown notify method %q", a.NotifyMethod)
	}

	if a.AlertType == TypePriceThreshold {
		if a.MaxPrice == nil || *a.MaxPrice <= 0 {
			return errors.New("threshold alerts require a positive max_price")
		}
	}

	if a.TargetSkill == "" && a.TargetProvider == "" {
		return errors.New("alert needs a target_skill or target_provider")
	}

	return nil
}

// ValidStatus reports whether s is an allowed alert status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusPaused, StatusExpired:
		return true
	}
	return false
}
