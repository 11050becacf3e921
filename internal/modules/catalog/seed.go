package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/database"
)

// SeedEntry is one manually curated price-list row used to bootstrap an
// empty store before the first crawl completes.
type SeedEntry struct {
	Provider    string
	URL         string
	Category    string
	Subcategory string
	Description string
	Price       float64
	Currency    string
	Unit        string
	PricingType string
}

// ManualCatalog is the bootstrap price list. Prices are USD per 1k
// tokens unless the unit says otherwise; they only need to be plausible
// until the first crawl cycle replaces them.
var ManualCatalog = []SeedEntry{
	{Provider: "openai", URL: "https://openai.com/pricing", Category: "llm", Subcategory: "gpt-4o", Description: "GPT-4o text generation", Price: 0.005, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "openai", URL: "https://openai.com/pricing", Category: "llm", Subcategory: "gpt-4o-mini", Description: "GPT-4o mini text generation", Price: 0.00030, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "openai", URL: "https://openai.com/pricing", Category: "embedding", Subcategory: "text-embedding-3-small", Description: "Text embeddings", Price: 0.00002, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "anthropic", URL: "https://www.anthropic.com/pricing", Category: "llm", Subcategory: "claude-sonnet", Description: "Claude Sonnet text generation", Price: 0.003, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "anthropic", URL: "https://www.anthropic.com/pricing", Category: "llm", Subcategory: "claude-haiku", Description: "Claude Haiku text generation", Price: 0.0008, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "google", URL: "https://ai.google.dev/pricing", Category: "llm", Subcategory: "gemini-flash", Description: "Gemini Flash text generation", Price: 0.00035, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "google", URL: "https://ai.google.dev/pricing", Category: "embedding", Subcategory: "text-embedding-004", Description: "Text embeddings", Price: 0.0000125, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "mistral", URL: "https://mistral.ai/technology/#pricing", Category: "llm", Subcategory: "mistral-small", Description: "Mistral Small text generation", Price: 0.001, Currency: "USD", Unit: "1k_tokens", PricingType: "per_unit"},
	{Provider: "deepgram", URL: "https://deepgram.com/pricing", Category: "speech-to-text", Subcategory: "nova", Description: "Streaming transcription", Price: 0.0043, Currency: "USD", Unit: "minute", PricingType: "per_unit"},
	{Provider: "elevenlabs", URL: "https://elevenlabs.io/pricing", Category: "text-to-speech", Subcategory: "multilingual", Description: "Neural TTS", Price: 0.00018, Currency: "USD", Unit: "character", PricingType: "per_unit"},
}

// Seeder bootstraps an empty store from the manual catalog.
type Seeder struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSeeder creates a new catalog seeder
func NewSeeder(db *sql.DB, log zerolog.Logger) *Seeder {
	return &Seeder{
		db:  db,
		log: log.With().Str("component", "seeder").Logger(),
	}
}

// SeedIfEmpty populates providers, services, and rates from the manual
// catalog when the providers table is empty. The whole seed runs inside
// one transaction so a half-seeded store is never observable.
func (s *Seeder) SeedIfEmpty(now time.Time) (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM providers").Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count providers: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	ts := now.Unix()
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		providerIDs := make(map[string]int64)

		for _, entry := range ManualCatalog {
			providerID, ok := providerIDs[entry.Provider]
			if !ok {
				result, err := tx.Exec(
					"INSERT INTO providers (name, url, type, created_at, updated_at) VALUES (?, ?, 'first_party', ?, ?)",
					entry.Provider, entry.URL, ts, ts,
				)
				if err != nil {
					return fmt.Errorf("failed to seed provider %s: %w", entry.Provider, err)
				}
				providerID, err = result.LastInsertId()
				if err != nil {
					return fmt.Errorf("failed to get provider insert ID: %w", err)
				}
				providerIDs[entry.Provider] = providerID
			}

			result, err := tx.Exec(
				"INSERT INTO services (provider_id, category, subcategory, description) VALUES (?, ?, ?, ?)",
				providerID, entry.Category, entry.Subcategory, entry.Description,
			)
			if err != nil {
				return fmt.Errorf("failed to seed service %s/%s: %w", entry.Category, entry.Subcategory, err)
			}
			serviceID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get service insert ID: %w", err)
			}

			if _, err := tx.Exec(
				"INSERT INTO rates (service_id, price, currency, unit, pricing_type, confidence, source_count, created_at) VALUES (?, ?, ?, ?, ?, 0.9, 1, ?)",
				serviceID, entry.Price, entry.Currency, entry.Unit, entry.PricingType, ts,
			); err != nil {
				return fmt.Errorf("failed to seed rate: %w", err)
			}

			if _, err := tx.Exec(
				"INSERT INTO rate_history (service_id, price, currency, unit, recorded_at) VALUES (?, ?, ?, ?, ?)",
				serviceID, entry.Price, entry.Currency, entry.Unit, ts,
			); err != nil {
				return fmt.Errorf("failed to seed rate history: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	s.log.Info().Int("entries", len(ManualCatalog)).Msg("Store seeded from manual catalog")
	return true, nil
}
