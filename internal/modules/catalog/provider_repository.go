package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProviderRepository handles provider and service rows in the store.
type ProviderRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *sql.DB, log zerolog.Logger) *ProviderRepository {
	return &ProviderRepository{
		db:  db,
		log: log.With().Str("repo", "provider").Logger(),
	}
}

const providerColumns = `id, name, url, type, created_at, updated_at`

// GetByName retrieves a provider by its unique name. Returns nil when absent.
func (r *ProviderRepository) GetByName(name string) (*Provider, error) {
	row := r.db.QueryRow("SELECT "+providerColumns+" FROM providers WHERE name = ?", name)
	provider, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider by name: %w", err)
	}
	return provider, nil
}

// GetByID retrieves a provider by id. Returns nil when absent.
func (r *ProviderRepository) GetByID(id int) (*Provider, error) {
	row := r.db.QueryRow("SELECT "+providerColumns+" FROM providers WHERE id = ?", id)
	provider, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider by id: %w", err)
	}
	return provider, nil
}

// GetOrCreate resolves a provider by name, creating it when missing.
func (r *ProviderRepository) GetOrCreate(name, url, providerType string) (*Provider, error) {
	existing, err := r.GetByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().Unix()
	result, err := r.db.Exec(
		"INSERT INTO providers (name, url, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		name, url, providerType, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}

	r.log.Info().Str("provider", name).Msg("Provider created")

	created := time.Unix(now, 0).UTC()
	return &Provider{
		ID:        int(id),
		Name:      name,
		URL:       url,
		Type:      providerType,
		CreatedAt: created,
		UpdatedAt: created,
	}, nil
}

// Touch bumps a provider's updated_at to now.
func (r *ProviderRepository) Touch(id int) error {
	_, err := r.db.Exec("UPDATE providers SET updated_at = ? WHERE id = ?", time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to touch provider: %w", err)
	}
	return nil
}

// Count returns the number of providers in the store.
func (r *ProviderRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM providers").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count providers: %w", err)
	}
	return count, nil
}

// GetOrCreateService resolves a service by (provider, category, subcategory),
// creating it when missing.
func (r *ProviderRepository) GetOrCreateService(providerID int, category, subcategory, description string) (*Service, error) {
	row := r.db.QueryRow(
		"SELECT id, provider_id, category, subcategory, description FROM services WHERE provider_id = ? AND category = ? AND subcategory = ?",
		providerID, category, subcategory,
	)

	var svc Service
	err := row.Scan(&svc.ID, &svc.ProviderID, &svc.Category, &svc.Subcategory, &svc.Description)
	if err == nil {
		return &svc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	result, err := r.db.Exec(
		"INSERT INTO services (provider_id, category, subcategory, description) VALUES (?, ?, ?, ?)",
		providerID, category, subcategory, description,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}

	return &Service{
		ID:          int(id),
		ProviderID:  providerID,
		Category:    category,
		Subcategory: subcategory,
		Description: description,
	}, nil
}

// GetWithRates returns one provider joined to its services and current
// rates. Returns nil when the provider does not exist.
func (r *ProviderRepository) GetWithRates(id int) (*ProviderRates, error) {
	provider, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT s.id, s.provider_id, s.category, s.subcategory, s.description,
		       r.id, r.price, r.currency, r.unit, r.pricing_type, r.confidence, r.source_count, r.created_at
		FROM services s
		LEFT JOIN rates r ON r.service_id = s.id
		WHERE s.provider_id = ?
		ORDER BY s.category, s.subcategory
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider services: %w", err)
	}
	defer rows.Close()

	entry := &ProviderRates{Provider: *provider, Services: []ServiceRate{}}
	for rows.Next() {
		var svc Service
		var rateID, rateSourceCount, rateCreatedAt sql.NullInt64
		var ratePrice, rateConfidence sql.NullFloat64
		var rateCurrency, rateUnit, ratePricingType sql.NullString

		if err := rows.Scan(
			&svc.ID, &svc.ProviderID, &svc.Category, &svc.Subcategory, &svc.Description,
			&rateID, &ratePrice, &rateCurrency, &rateUnit, &ratePricingType, &rateConfidence, &rateSourceCount, &rateCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan service row: %w", err)
		}

		sr := ServiceRate{Service: svc}
		if rateID.Valid {
			sr.Rate = &Rate{
				ID:          int(rateID.Int64),
				ServiceID:   svc.ID,
				Price:       ratePrice.Float64,
				Currency:    rateCurrency.String,
				Unit:        rateUnit.String,
				PricingType: ratePricingType.String,
				Confidence:  rateConfidence.Float64,
				SourceCount: int(rateSourceCount.Int64),
				CreatedAt:   time.Unix(rateCreatedAt.Int64, 0).UTC(),
			}
		}
		entry.Services = append(entry.Services, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate service rows: %w", err)
	}

	return entry, nil
}

// ListWithRates returns providers joined to their services and current
// rates, optionally filtered by category and sorted by the cheapest
// current rate of each provider.
func (r *ProviderRepository) ListWithRates(category, sortByPrice string) ([]ProviderRates, error) {
	query := `
		SELECT p.id, p.name, p.url, p.type, p.created_at, p.updated_at,
		       s.id, s.provider_id, s.category, s.subcategory, s.description,
		       r.id, r.price, r.currency, r.unit, r.pricing_type, r.confidence, r.source_count, r.created_at
		FROM providers p
		LEFT JOIN services s ON s.provider_id = p.id
		LEFT JOIN rates r ON r.service_id = s.id
	`
	var args []interface{}
	if category != "" {
		query += " WHERE s.category = ?"
		args = append(args, category)
	}
	query += " ORDER BY p.name, s.category, s.subcategory"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	byID := make(map[int]*ProviderRates)
	var order []int
	for rows.Next() {
		var p Provider
		var createdAt, updatedAt int64
		var svcID, svcProviderID sql.NullInt64
		var svcCategory, svcSubcategory, svcDescription sql.NullString
		var rateID, rateSourceCount, rateCreatedAt sql.NullInt64
		var ratePrice, rateConfidence sql.NullFloat64
		var rateCurrency, rateUnit, ratePricingType sql.NullString

		if err := rows.Scan(
			&p.ID, &p.Name, &p.URL, &p.Type, &createdAt, &updatedAt,
			&svcID, &svcProviderID, &svcCategory, &svcSubcategory, &svcDescription,
			&rateID, &ratePrice, &rateCurrency, &rateUnit, &ratePricingType, &rateConfidence, &rateSourceCount, &rateCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider row: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		entry, ok := byID[p.ID]
		if !ok {
			entry = &ProviderRates{Provider: p, Services: []ServiceRate{}}
			byID[p.ID] = entry
			order = append(order, p.ID)
		}

		if svcID.Valid {
			sr := ServiceRate{Service: Service{
				ID:          int(svcID.Int64),
				ProviderID:  int(svcProviderID.Int64),
				Category:    svcCategory.String,
				Subcategory: svcSubcategory.String,
				Description: svcDescription.String,
			}}
			if rateID.Valid {
				sr.Rate = &Rate{
					ID:          int(rateID.Int64),
					ServiceID:   int(svcID.Int64),
					Price:       ratePrice.Float64,
					Currency:    rateCurrency.String,
					Unit:        rateUnit.String,
					PricingType: ratePricingType.String,
					Confidence:  rateConfidence.Float64,
					SourceCount: int(rateSourceCount.Int64),
					CreatedAt:   time.Unix(rateCreatedAt.Int64, 0).UTC(),
				}
			}
			entry.Services = append(entry.Services, sr)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider rows: %w", err)
	}

	result := make([]ProviderRates, 0, len(order))
	for _, id := range order {
		result = append(result, *byID[id])
	}

	switch strings.ToLower(sortByPrice) {
	case "asc":
		sortProvidersByCheapest(result, true)
	case "desc":
		sortProvidersByCheapest(result, false)
	}

	return result, nil
}

func sortProvidersByCheapest(providers []ProviderRates, ascending bool) {
	cheapest := func(pr ProviderRates) float64 {
		best := -1.0
		for _, sr := range pr.Services {
			if sr.Rate == nil {
				continue
			}
			if best < 0 || sr.Rate.Price < best {
				best = sr.Rate.Price
			}
		}
		return best
	}

	// Providers without any rate sort last regardless of direction.
	sort.SliceStable(providers, func(i, j int) bool {
		ca, cb := cheapest(providers[i]), cheapest(providers[j])
		if ca < 0 {
			return false
		}
		if cb < 0 {
			return true
		}
		if ascending {
			return ca < cb
		}
		return ca > cb
	})
}

func scanProvider(row *sql.Row) (*Provider, error) {
	var p Provider
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.Name, &p.URL, &p.Type, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}
