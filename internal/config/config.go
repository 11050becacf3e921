// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// SMTPConfig holds the outbound email transport settings.
// Email notifications are silently disabled when Host or User is empty.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Configured reports whether the SMTP transport can actually send mail.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.User != ""
}

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the store (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Recurring task schedules (robfig/cron expressions, validated at startup)
	CrawlSchedule    string
	AlertSchedule    string
	ForecastSchedule string

	// Bazaar catalog ingestion
	BazaarURL         string // live marketplace catalog endpoint
	BazaarCatalogPath string // local fallback catalog file

	SMTP SMTPConfig

	// Payment middleware collaborators (pass-through, not used by the core)
	WalletAddress  string
	FacilitatorURL string

	// AI provider keys enable the experimental smart-router path.
	// Absence disables the router, it is never fatal.
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PRICEWATCH_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		CrawlSchedule:    getEnv("CRAWL_SCHEDULE", "*/5 * * * *"),
		AlertSchedule:    getEnv("ALERT_SCHEDULE", "*/5 * * * *"),
		ForecastSchedule: getEnv("FORECAST_SCHEDULE", "0 2 * * *"),

		BazaarURL:         getEnv("BAZAAR_URL", "https://bazaar.x402.org/api/services"),
		BazaarCatalogPath: getEnv("BAZAAR_CATALOG_PATH", ""),

		SMTP: SMTPConfig{
			Host: getEnv("SMTP_HOST", ""),
			Port: getEnvAsInt("SMTP_PORT", 587),
			User: getEnv("SMTP_USER", ""),
			Pass: getEnv("SMTP_PASS", ""),
			From: getEnv("SMTP_FROM", "alerts@pricewatch.local"),
		},

		WalletAddress:  getEnv("WALLET_ADDRESS", ""),
		FacilitatorURL: getEnv("FACILITATOR_URL", ""),

		OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiKey:    getEnv("GEMINI_API_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
