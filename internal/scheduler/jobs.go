package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmarket/pricewatch/internal/modules/alerts"
	"github.com/agentmarket/pricewatch/internal/modules/crawler"
	"github.com/agentmarket/pricewatch/internal/modules/forecast"
)

// CrawlJob runs one full crawl cycle.
type CrawlJob struct {
	Orchestrator *crawler.Orchestrator
}

func (j *CrawlJob) Name() string { return "crawl" }

func (j *CrawlJob) Run() error {
	result := j.Orchestrator.RunAll(context.Background())
	if len(result.Errors) == result.ProvidersChecked && result.ProvidersChecked > 0 {
		return fmt.Errorf("every crawler failed: %v", result.Errors)
	}
	return nil
}

// AlertJob sweeps active alerts against current prices.
type AlertJob struct {
	Evaluator *alerts.Evaluator
}

func (j *AlertJob) Name() string { return "alert-check" }

func (j *AlertJob) Run() error {
	_, err := j.Evaluator.CheckAll(time.Now())
	return err
}

// ForecastJob regenerates the 7-day forecasts for every skill.
type ForecastJob struct {
	Engine *forecast.Engine
}

func (j *ForecastJob) Name() string { return "forecast" }

func (j *ForecastJob) Run() error {
	summary, err := j.Engine.GenerateAll(time.Now())
	if err != nil {
		return err
	}
	if len(summary.Errors) > 0 {
		return fmt.Errorf("forecast sweep finished with %d errors", len(summary.Errors))
	}
	return nil
}
