package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/config"
	"github.com/agentmarket/pricewatch/internal/modules/alerts"
)

const (
	webhookTimeout = 5 * time.Second
	userAgent      = "pricewatch-alerts/1.0"
	sourceName     = "pricewatch"
	payloadVersion = "1.0"
)

// Pusher pushes an alert payload over a live WebSocket connection.
// Implemented by push.Gateway.
type Pusher interface {
	BroadcastAlert(agentID int, payload interface{}) bool
}

// Recorder marks a trigger's notification as delivered. Implemented by
// alerts.Manager.
type Recorder interface {
	MarkNotified(triggerID int)
}

// webhookPayload is the body POSTed to webhook subscribers.
type webhookPayload struct {
	Event       string   `json:"event"`
	AlertID     int      `json:"alert_id"`
	AlertType   string   `json:"alert_type"`
	Skill       string   `json:"skill,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	OldPrice    float64  `json:"old_price"`
	NewPrice    float64  `json:"new_price"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	TriggeredAt string   `json:"triggered_at"`
	Source      string   `json:"source"`
	Version     string   `json:"version"`
	Retry       bool     `json:"retry,omitempty"`
}

// Dispatcher fans a fired alert out to its configured channel. All
// delivery is best effort: a failed notification is logged and the
// trigger simply stays unmarked.
type Dispatcher struct {
	smtp     config.SMTPConfig
	pusher   Pusher
	recorder Recorder
	client   *http.Client
	log      zerolog.Logger
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(smtpCfg config.SMTPConfig, pusher Pusher, recorder Recorder, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		smtp:     smtpCfg,
		pusher:   pusher,
		recorder: recorder,
		client:   &http.Client{Timeout: webhookTimeout},
		log:      log.With().Str("component", "notifier").Logger(),
	}
}

// Dispatch delivers one fired alert via its notify method and marks
// the trigger notified on success.
func (d *Dispatcher) Dispatch(alert alerts.Alert, trigger alerts.Trigger) {
	var delivered bool

	switch alert.NotifyMethod {
	case alerts.NotifyWebhook:
		delivered = d.sendWebhook(alert, trigger)
	case alerts.NotifyEmail:
		delivered = d.sendEmail(alert, trigger)
	case alerts.NotifyWebsocket:
		delivered = d.pusher.BroadcastAlert(alert.AgentID, buildPayload(alert, trigger, false))
	default:
		d.log.Warn().Str("method", alert.NotifyMethod).Int("alert_id", alert.ID).Msg("Unknown notify method")
		return
	}

	if delivered {
		d.recorder.MarkNotified(trigger.ID)
	}
}

// sendWebhook POSTs the payload to the subscriber URL. One retry, with
// the retry flag set so receivers can dedup.
func (d *Dispatcher) sendWebhook(alert alerts.Alert, trigger alerts.Trigger) bool {
	if err := d.postWebhook(alert.WebhookURL, buildPayload(alert, trigger, false)); err == nil {
		return true
	} else {
		d.log.Warn().Err(err).Int("alert_id", alert.ID).Msg("Webhook delivery failed, retrying once")
	}

	if err := d.postWebhook(alert.WebhookURL, buildPayload(alert, trigger, true)); err != nil {
		d.log.Error().Err(err).Int("alert_id", alert.ID).Msg("Webhook retry failed")
		return false
	}
	return true
}

func (d *Dispatcher) postWebhook(url string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// sendEmail delivers the alert by SMTP. Without SMTP configuration
// this is a logged no-op.
func (d *Dispatcher) sendEmail(alert alerts.Alert, trigger alerts.Trigger) bool {
	if !d.smtp.Configured() {
		d.log.Warn().Int("alert_id", alert.ID).Msg("Email alert skipped, SMTP not configured")
		return false
	}

	subject := fmt.Sprintf("Price alert: %s", alertSubject(alert, trigger))
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s",
		d.smtp.From, alert.Email, subject, emailBody(alert, trigger),
	)

	addr := fmt.Sprintf("%s:%d", d.smtp.Host, d.smtp.Port)
	var auth smtp.Auth
	if d.smtp.User != "" {
		auth = smtp.PlainAuth("", d.smtp.User, d.smtp.Pass, d.smtp.Host)
	}

	if err := smtp.SendMail(addr, auth, d.smtp.From, []string{alert.Email}, []byte(msg)); err != nil {
		d.log.Error().Err(err).Int("alert_id", alert.ID).Msg("Email delivery failed")
		return false
	}
	return true
}

func buildPayload(alert alerts.Alert, trigger alerts.Trigger, retry bool) webhookPayload {
	return webhookPayload{
		Event:       "price_alert",
		AlertID:     alert.ID,
		AlertType:   alert.AlertType,
		Skill:       trigger.Skill,
		Provider:    trigger.Provider,
		OldPrice:    trigger.OldPrice,
		NewPrice:    trigger.NewPrice,
		MaxPrice:    alert.MaxPrice,
		TriggeredAt: trigger.TriggeredAt.UTC().Format(time.RFC3339),
		Source:      sourceName,
		Version:     payloadVersion,
		Retry:       retry,
	}
}

func alertSubject(alert alerts.Alert, trigger alerts.Trigger) string {
	target := trigger.Skill
	if target == "" {
		target = trigger.Provider
	}
	switch alert.AlertType {
	case alerts.TypePriceDrop:
		return fmt.Sprintf("%s dropped to %.6f", target, trigger.NewPrice)
	case alerts.TypePriceThreshold:
		return fmt.Sprintf("%s is at or below your threshold", target)
	default:
		return fmt.Sprintf("%s price changed", target)
	}
}

func emailBody(alert alerts.Alert, trigger alerts.Trigger) string {
	return fmt.Sprintf(`<html><body>
<h2>Price alert fired</h2>
<p>Alert #%d (%s)</p>
<table>
<tr><td>Skill</td><td>%s</td></tr>
<tr><td>Provider</td><td>%s</td></tr>
<tr><td>Previous price</td><td>%.6f</td></tr>
<tr><td>Current price</td><td>%.6f</td></tr>
<tr><td>Triggered at</td><td>%s</td></tr>
</table>
</body></html>`,
		alert.ID, alert.AlertType,
		trigger.Skill, trigger.Provider,
		trigger.OldPrice, trigger.NewPrice,
		trigger.TriggeredAt.UTC().Format(time.RFC3339),
	)
}
