package alerts

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/modules/catalog"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

// Dispatcher delivers a fired alert to its recipient. Implemented by
// the notify package.
type Dispatcher interface {
	Dispatch(alert Alert, trigger Trigger)
}

// EvalResult summarizes one evaluation sweep.
type EvalResult struct {
	CheckedAlerts   int `json:"checkedAlerts"`
	TriggeredAlerts int `json:"triggeredAlerts"`
}

// Evaluator runs the periodic sweep over active alerts: resolve the
// current price for each alert's target, compare it against the
// baseline, and fire when the condition holds.
type Evaluator struct {
	manager    *Manager
	rates      *catalog.RateRepository
	market     *marketplace.Repository
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewEvaluator creates a new alert evaluator
func NewEvaluator(manager *Manager, rates *catalog.RateRepository, market *marketplace.Repository, dispatcher Dispatcher, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		manager:    manager,
		rates:      rates,
		market:     market,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "alert-evaluator").Logger(),
	}
}

// CheckAll evaluates every active alert. A failing alert is logged and
// skipped; it never aborts the sweep.
func (e *Evaluator) CheckAll(now time.Time) (EvalResult, error) {
	active, err := e.manager.ListActive()
	if err != nil {
		return EvalResult{}, fmt.Errorf("failed to load active alerts: %w", err)
	}

	result := EvalResult{CheckedAlerts: len(active)}
	for _, alert := range active {
		fired, err := e.evaluate(alert, now)
		if err != nil {
			e.log.Error().Err(err).Int("alert_id", alert.ID).Msg("Alert evaluation failed")
			continue
		}
		if fired {
			result.TriggeredAlerts++
		}
	}

	if result.TriggeredAlerts > 0 {
		e.log.Info().
			Int("checked", result.CheckedAlerts).
			Int("triggered", result.TriggeredAlerts).
			Msg("Alert sweep complete")
	}

	return result, nil
}

// evaluate resolves the alert's current price, applies its condition
// against the baseline, and fires when it holds. The baseline is the
// new_price of the alert's last trigger; an alert that has never fired
// uses the current price, so the first sweep only arms it.
func (e *Evaluator) evaluate(alert Alert, now time.Time) (bool, error) {
	current, provider, skill, err := e.currentPrice(alert)
	if err != nil {
		return false, err
	}
	if current == nil {
		// No price data yet for this target.
		return false, nil
	}

	baseline := *current
	last, err := e.manager.LastTrigger(alert.ID)
	if err != nil {
		return false, err
	}
	if last != nil {
		baseline = last.NewPrice
	} else if alert.AlertType != TypePriceThreshold {
		// First evaluation of a baseline-relative alert records the
		// current price as the baseline and never fires. Without this
		// row, baseline would equal current on every sweep and the
		// alert could never trigger.
		_, err := e.manager.RecordTrigger(Trigger{
			AlertID:  alert.ID,
			OldPrice: *current,
			NewPrice: *current,
			Provider: provider,
			Skill:    skill,
		}, now)
		if err != nil {
			return false, err
		}
		return false, nil
	}

	if !conditionHolds(alert, baseline, *current) {
		return false, nil
	}

	trigger, err := e.manager.RecordTrigger(Trigger{
		AlertID:  alert.ID,
		OldPrice: baseline,
		NewPrice: *current,
		Provider: provider,
		Skill:    skill,
	}, now)
	if err != nil {
		return false, err
	}

	e.log.Info().
		Int("alert_id", alert.ID).
		Str("type", alert.AlertType).
		Float64("old_price", baseline).
		Float64("new_price", *current).
		Msg("Alert triggered")

	e.dispatcher.Dispatch(alert, *trigger)
	return true, nil
}

// currentPrice resolves the alert's target to its present market
// price: provider targets read the provider's most recent rate, skill
// targets read the cheapest agent service offering the skill.
func (e *Evaluator) currentPrice(alert Alert) (*float64, string, string, error) {
	if alert.TargetProvider != "" {
		obs, err := e.rates.MostRecentByProvider(alert.TargetProvider)
		if err != nil {
			return nil, "", "", err
		}
		if obs == nil {
			return nil, "", "", nil
		}
		// Provider targets carry the synthetic skill of the observation
		// they resolved to.
		skill := obs.Category + "/default"
		if obs.Subcategory != "" {
			skill = obs.Category + "/" + obs.Subcategory
		}
		return &obs.Price, obs.Provider, skill, nil
	}

	svc, err := e.market.CheapestBySkill(alert.TargetSkill)
	if err != nil {
		return nil, "", "", err
	}
	if svc == nil {
		return nil, "", "", nil
	}
	return &svc.Price, svc.AgentName, svc.Skill, nil
}

// conditionHolds applies the alert's comparison.
func conditionHolds(alert Alert, baseline, current float64) bool {
	switch alert.AlertType {
	case TypePriceDrop:
		return current < baseline
	case TypePriceThreshold:
		return alert.MaxPrice != nil && current <= *alert.MaxPrice
	case TypeAnyChange:
		return current != baseline
	}
	return false
}
