package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/config"
	"github.com/agentmarket/pricewatch/internal/database"
	"github.com/agentmarket/pricewatch/internal/modules/accounts"
	"github.com/agentmarket/pricewatch/internal/modules/aggregation"
	"github.com/agentmarket/pricewatch/internal/modules/alerts"
	"github.com/agentmarket/pricewatch/internal/modules/catalog"
	"github.com/agentmarket/pricewatch/internal/modules/compare"
	"github.com/agentmarket/pricewatch/internal/modules/crawler"
	"github.com/agentmarket/pricewatch/internal/modules/forecast"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
	"github.com/agentmarket/pricewatch/internal/modules/notify"
	"github.com/agentmarket/pricewatch/internal/modules/push"
	"github.com/agentmarket/pricewatch/internal/scheduler"
	"github.com/agentmarket/pricewatch/internal/server"
	"github.com/agentmarket/pricewatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger isn't up yet; construct a minimal one to die with.
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Pricewatch")

	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "pricewatch.db"),
		Name: "pricewatch",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// First boot on an empty store gets the manual catalog so the API
	// has data before the first crawl lands.
	seeded, err := catalog.NewSeeder(db.Conn(), log).SeedIfEmpty(time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed catalog")
	}
	if seeded {
		log.Info().Msg("Empty store seeded from manual catalog")
	}

	// Store layer
	accountsRepo := accounts.NewRepository(db.Conn(), log)
	providerRepo := catalog.NewProviderRepository(db.Conn(), log)
	rateRepo := catalog.NewRateRepository(db.Conn(), log)
	marketRepo := marketplace.NewRepository(db.Conn(), log)
	forecastRepo := forecast.NewRepository(db.Conn(), log)

	// Domain services
	aggregator := aggregation.NewService(rateRepo, marketRepo, log)
	compareSvc := compare.NewService(rateRepo, marketRepo, log)
	forecaster := forecast.NewEngine(rateRepo, forecastRepo, log)

	gateway := push.NewGateway(accountsRepo, log)
	alertManager := alerts.NewManager(db.Conn(), log)
	dispatcher := notify.NewDispatcher(cfg.SMTP, gateway, alertManager, log)
	evaluator := alerts.NewEvaluator(alertManager, rateRepo, marketRepo, dispatcher, log)

	bazaar := crawler.NewBazaarCrawler(cfg.BazaarURL, cfg.BazaarCatalogPath, log)
	orchestrator := crawler.NewOrchestrator(crawler.DefaultCrawlers(), bazaar, providerRepo, rateRepo, marketRepo, log)

	// Background jobs
	sched := scheduler.New(log)
	registerJobs(sched, cfg, orchestrator, evaluator, forecaster, log)
	sched.Start()

	crawlJob := &scheduler.CrawlJob{Orchestrator: orchestrator}
	alertJob := &scheduler.AlertJob{Evaluator: evaluator}
	go func() {
		// Fresh data right away instead of waiting for the first tick.
		if err := sched.RunNow(crawlJob); err != nil {
			log.Error().Err(err).Msg("Startup crawl failed")
		}
		if err := sched.RunNow(alertJob); err != nil {
			log.Error().Err(err).Msg("Startup alert sweep failed")
		}
	}()

	srv := server.New(server.Config{
		Port:         cfg.Port,
		Log:          log,
		DB:           db,
		DevMode:      cfg.DevMode,
		Accounts:     accountsRepo,
		Providers:    providerRepo,
		Rates:        rateRepo,
		Market:       marketRepo,
		Aggregator:   aggregator,
		Compare:      compareSvc,
		Alerts:       alertManager,
		Forecasts:    forecastRepo,
		Forecaster:   forecaster,
		Gateway:      gateway,
		Orchestrator: orchestrator,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()
	gateway.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJobs wires the recurring tasks. A bad cron expression is a
// configuration bug, so it kills startup.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	orchestrator *crawler.Orchestrator,
	evaluator *alerts.Evaluator,
	forecaster *forecast.Engine,
	log zerolog.Logger,
) {
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.CrawlSchedule, &scheduler.CrawlJob{Orchestrator: orchestrator}},
		{cfg.AlertSchedule, &scheduler.AlertJob{Evaluator: evaluator}},
		{cfg.ForecastSchedule, &scheduler.ForecastJob{Engine: forecaster}},
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Str("schedule", j.schedule).Msg("Invalid job schedule")
		}
	}
}
