// Package server exposes the HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/database"
	"github.com/agentmarket/pricewatch/internal/modules/accounts"
	"github.com/agentmarket/pricewatch/internal/modules/aggregation"
	"github.com/agentmarket/pricewatch/internal/modules/alerts"
	"github.com/agentmarket/pricewatch/internal/modules/catalog"
	"github.com/agentmarket/pricewatch/internal/modules/compare"
	"github.com/agentmarket/pricewatch/internal/modules/crawler"
	"github.com/agentmarket/pricewatch/internal/modules/forecast"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
	"github.com/agentmarket/pricewatch/internal/modules/push"
)

// Config holds server configuration
type Config struct {
	Port    int
	Log     zerolog.Logger
	DB      *database.DB
	DevMode bool

	Accounts     *accounts.Repository
	Providers    *catalog.ProviderRepository
	Rates        *catalog.RateRepository
	Market       *marketplace.Repository
	Aggregator   *aggregation.Service
	Compare      *compare.Service
	Alerts       *alerts.Manager
	Forecasts    *forecast.Repository
	Forecaster   *forecast.Engine
	Gateway      *push.Gateway
	Orchestrator *crawler.Orchestrator
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	db     *database.DB

	accounts     *accounts.Repository
	providers    *catalog.ProviderRepository
	rates        *catalog.RateRepository
	market       *marketplace.Repository
	aggregator   *aggregation.Service
	compare      *compare.Service
	alerts       *alerts.Manager
	forecasts    *forecast.Repository
	forecaster   *forecast.Engine
	gateway      *push.Gateway
	orchestrator *crawler.Orchestrator
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		db:           cfg.DB,
		accounts:     cfg.Accounts,
		providers:    cfg.Providers,
		rates:        cfg.Rates,
		market:       cfg.Market,
		aggregator:   cfg.Aggregator,
		compare:      cfg.Compare,
		alerts:       cfg.Alerts,
		forecasts:    cfg.Forecasts,
		forecaster:   cfg.Forecaster,
		gateway:      cfg.Gateway,
		orchestrator: cfg.Orchestrator,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		// Registration and the WebSocket feed authenticate themselves.
		r.Post("/agents", s.handleRegisterAgent)
		r.Get("/ws", s.gateway.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/rates", func(r chi.Router) {
				r.Get("/", s.handleAllRates)
				r.Get("/{category}", s.handleCategoryRate)
				r.Get("/{category}/{subcategory}", s.handleCategoryRate)
			})

			r.Route("/providers", func(r chi.Router) {
				r.Get("/", s.handleProviders)
				r.Get("/{providerID}", s.handleProviderByID)
			})

			r.Route("/stats", func(r chi.Router) {
				r.Get("/", s.handleStats)
				r.Get("/volatility", s.handleVolatility)
				r.Get("/{skill}", s.handleSkillStats)
			})

			r.Get("/compare", s.handleCompareProviders)

			r.Route("/agent-services", func(r chi.Router) {
				r.Get("/", s.handleAgentServices)
				r.Get("/compare", s.handleCompareAgents)
				r.Get("/{agentID}", s.handleAgentService)
				r.Get("/{agentID}/history", s.handleAgentServiceHistory)
			})

			r.Get("/agents", s.handleListAgents)
			r.Get("/agents/me", s.handleWhoAmI)

			r.Route("/budget", func(r chi.Router) {
				r.Get("/", s.handleGetBudget)
				r.Put("/", s.handleSetBudget)
				r.Post("/spend", s.handleRecordSpend)
				r.Get("/history", s.handleBudgetHistory)
			})

			r.Get("/requests", s.handleRecentRequests)

			r.Route("/alerts", func(r chi.Router) {
				r.Post("/", s.handleCreateAlert)
				r.Get("/", s.handleListAlerts)
				r.Get("/{alertID}", s.handleGetAlert)
				r.Patch("/{alertID}", s.handleUpdateAlertStatus)
				r.Delete("/{alertID}", s.handleDeleteAlert)
				r.Get("/{alertID}/history", s.handleAlertHistory)
			})

			r.Route("/forecast", func(r chi.Router) {
				r.Get("/status", s.handleForecastStatus)
				r.Post("/generate", s.handleGenerateForecasts)
				r.Get("/{skill}", s.handleForecast)
				r.Get("/{skill}/accuracy", s.handleForecastAccuracy)
			})

			r.Post("/crawl", s.handleTriggerCrawl)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// handleHealth reports liveness and store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"ws_clients": s.gateway.ConnectedCount(),
	}

	if err := s.db.QuickCheck(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["database"] = "ok"

	respondJSON(w, http.StatusOK, status)
}
