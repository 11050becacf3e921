// Package crawler collects provider price lists and marketplace agent
// listings, and feeds accepted observations into the store.
package crawler

import (
	"context"

	"github.com/agentmarket/pricewatch/internal/modules/catalog"
)

// Crawler fetches the current price list of one provider.
type Crawler interface {
	Name() string
	Fetch(ctx context.Context) ([]catalog.SeedEntry, error)
}

// staticCrawler serves a curated price list. Provider pricing pages
// are JS-rendered and change shape often, so first-party prices ride
// on maintained lists until an official pricing API exists.
type staticCrawler struct {
	name    string
	entries []catalog.SeedEntry
}

func (c *staticCrawler) Name() string { return c.name }

func (c *staticCrawler) Fetch(_ context.Context) ([]catalog.SeedEntry, error) {
	out := make([]catalog.SeedEntry, len(c.entries))
	copy(out, c.entries)
	return out, nil
}

// DefaultCrawlers builds one crawler per provider in the manual
// catalog.
func DefaultCrawlers() []Crawler {
	byProvider := make(map[string][]catalog.SeedEntry)
	var order []string
	for _, entry := range catalog.ManualCatalog {
		if _, seen := byProvider[entry.Provider]; !seen {
			order = append(order, entry.Provider)
		}
		byProvider[entry.Provider] = append(byProvider[entry.Provider], entry)
	}

	crawlers := make([]Crawler, 0, len(order))
	for _, name := range order {
		crawlers = append(crawlers, &staticCrawler{name: name, entries: byProvider[name]})
	}
	return crawlers
}
