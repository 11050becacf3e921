package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmarket/pricewatch/internal/modules/catalog"
	"github.com/agentmarket/pricewatch/internal/modules/marketplace"
)

// Result summarizes one crawl cycle.
type Result struct {
	ProvidersChecked int      `json:"providers_checked"`
	NewRates         int      `json:"new_rates"`
	AgentsChecked    int      `json:"agents_checked"`
	AgentsUpdated    int      `json:"agents_updated"`
	Errors           []string `json:"errors"`
}

// crawlOutcome carries one crawler's fetch back to the ingest loop.
type crawlOutcome struct {
	name    string
	entries []catalog.SeedEntry
	err     error
}

// Orchestrator runs all crawlers and ingests what they return.
// Fetches run in parallel; writes are serialized through the store.
type Orchestrator struct {
	crawlers  []Crawler
	bazaar    *BazaarCrawler
	providers *catalog.ProviderRepository
	rates     *catalog.RateRepository
	market    *marketplace.Repository
	log       zerolog.Logger
}

// NewOrchestrator creates a new crawl orchestrator
func NewOrchestrator(
	crawlers []Crawler,
	bazaar *BazaarCrawler,
	providers *catalog.ProviderRepository,
	rates *catalog.RateRepository,
	market *marketplace.Repository,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		crawlers:  crawlers,
		bazaar:    bazaar,
		providers: providers,
		rates:     rates,
		market:    market,
		log:       log.With().Str("component", "crawler").Logger(),
	}
}

// RunAll executes one full crawl cycle: every provider crawler plus
// the bazaar. Individual crawler failures land in Errors; the cycle
// itself always settles.
func (o *Orchestrator) RunAll(ctx context.Context) Result {
	started := time.Now()
	result := Result{Errors: []string{}}

	outcomes := make(chan crawlOutcome, len(o.crawlers))
	var wg sync.WaitGroup
	for _, c := range o.crawlers {
		wg.Add(1)
		go func(c Crawler) {
			defer wg.Done()
			entries, err := c.Fetch(ctx)
			outcomes <- crawlOutcome{name: c.Name(), entries: entries, err: err}
		}(c)
	}
	wg.Wait()
	close(outcomes)

	now := time.Now()
	for outcome := range outcomes {
		result.ProvidersChecked++
		if outcome.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", outcome.name, outcome.err))
			continue
		}

		accepted, err := o.ingestProvider(outcome.name, outcome.entries, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", outcome.name, err))
			continue
		}
		result.NewRates += accepted
	}

	if o.bazaar != nil {
		o.crawlBazaar(ctx, now, &result)
	}

	o.log.Info().
		Int("providers", result.ProvidersChecked).
		Int("new_rates", result.NewRates).
		Int("agents", result.AgentsChecked).
		Int("errors", len(result.Errors)).
		Dur("took", time.Since(started)).
		Msg("Crawl cycle complete")

	return result
}

// ingestProvider writes one crawler's entries through the dedup gate.
func (o *Orchestrator) ingestProvider(name string, entries []catalog.SeedEntry, now time.Time) (int, error) {
	var accepted int
	for _, entry := range entries {
		provider, err := o.providers.GetOrCreate(entry.Provider, entry.URL, "first_party")
		if err != nil {
			return accepted, err
		}

		service, err := o.providers.GetOrCreateService(provider.ID, entry.Category, entry.Subcategory, entry.Description)
		if err != nil {
			return accepted, err
		}

		dup, err := o.rates.IsDuplicate(service.ID, entry.Price, entry.Unit, now)
		if err != nil {
			return accepted, err
		}
		if dup {
			continue
		}

		err = o.rates.InsertObservation(catalog.Rate{
			ServiceID:   service.ID,
			Price:       entry.Price,
			Currency:    entry.Currency,
			Unit:        entry.Unit,
			PricingType: entry.PricingType,
			SourceCount: 1,
		}, now)
		if err != nil {
			return accepted, err
		}
		accepted++

		if err := o.providers.Touch(provider.ID); err != nil {
			o.log.Warn().Err(err).Str("provider", name).Msg("Failed to stamp provider crawl time")
		}
	}
	return accepted, nil
}

// crawlBazaar pulls agent listings and upserts them into the
// marketplace catalog.
func (o *Orchestrator) crawlBazaar(ctx context.Context, now time.Time, result *Result) {
	listings, err := o.bazaar.FetchAgents(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("bazaar: %v", err))
		return
	}

	result.AgentsChecked = len(listings)
	for _, svc := range listings {
		changed, err := o.market.Upsert(svc, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("bazaar %s: %v", svc.AgentID, err))
			continue
		}
		if changed {
			result.AgentsUpdated++
		}
	}
}
