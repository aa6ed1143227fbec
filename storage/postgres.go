package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"homefinder/models"
)

// PostgresStore backs deployments where the API runs separately from the
// scraper daemon.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		source_site TEXT NOT NULL,
		identity_key TEXT NOT NULL,
		agency_listing_id TEXT,
		source_url TEXT,
		title TEXT,
		contract_type TEXT NOT NULL,
		price DOUBLE PRECISION,
		city TEXT,
		neighborhood TEXT,
		address TEXT,
		rooms INT,
		bedrooms INT,
		bathrooms INT,
		square_meters DOUBLE PRECISION,
		floor INT,
		year_built INT,
		has_elevator BOOLEAN,
		has_air_conditioning BOOLEAN,
		has_garage BOOLEAN,
		is_furnished BOOLEAN,
		heating TEXT NOT NULL DEFAULT 'unknown',
		energy_class TEXT,
		energy_consumption DOUBLE PRECISION,
		description TEXT,
		features JSONB,
		publication_date TIMESTAMPTZ,
		scrape_date TIMESTAMPTZ NOT NULL,
		raw_html_file TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(source_site, identity_key)
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		discovered INT DEFAULT 0,
		fetched INT DEFAULT 0,
		cache_hits INT DEFAULT 0,
		extracted INT DEFAULT 0,
		normalization_failed INT DEFAULT 0,
		skipped INT DEFAULT 0,
		listings_new INT DEFAULT 0,
		listings_updated INT DEFAULT 0,
		listings_unchanged INT DEFAULT 0,
		sites JSONB,
		errors JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_listings_site ON listings(source_site);
	CREATE INDEX IF NOT EXISTS idx_listings_contract ON listings(contract_type);
	CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price);
	CREATE INDEX IF NOT EXISTS idx_listings_city ON listings(city);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON scrape_runs(started_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const pgListingColumns = `id, source_site, identity_key, agency_listing_id, source_url, title,
	contract_type, price, city, neighborhood, address, rooms, bedrooms, bathrooms,
	square_meters, floor, year_built, has_elevator, has_air_conditioning, has_garage,
	is_furnished, heating, energy_class, energy_consumption, description, features,
	publication_date, scrape_date, raw_html_file, created_at, updated_at`

func (s *PostgresStore) GetListing(ctx context.Context, id models.Identity) (*models.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgListingColumns+` FROM listings WHERE source_site = $1 AND identity_key = $2`,
		id.SourceSite, id.Key)
	return scanPgListing(row)
}

func (s *PostgresStore) GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgListingColumns+` FROM listings WHERE id = $1`, id)
	return scanPgListing(row)
}

func (s *PostgresStore) SaveListing(ctx context.Context, l *models.Listing) error {
	features, err := json.Marshal(l.Features)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO listings (`+pgListingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
		ON CONFLICT (source_site, identity_key) DO UPDATE SET
			agency_listing_id = EXCLUDED.agency_listing_id,
			source_url = EXCLUDED.source_url,
			title = EXCLUDED.title,
			contract_type = EXCLUDED.contract_type,
			price = EXCLUDED.price,
			city = EXCLUDED.city,
			neighborhood = EXCLUDED.neighborhood,
			address = EXCLUDED.address,
			rooms = EXCLUDED.rooms,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			square_meters = EXCLUDED.square_meters,
			floor = EXCLUDED.floor,
			year_built = EXCLUDED.year_built,
			has_elevator = EXCLUDED.has_elevator,
			has_air_conditioning = EXCLUDED.has_air_conditioning,
			has_garage = EXCLUDED.has_garage,
			is_furnished = EXCLUDED.is_furnished,
			heating = EXCLUDED.heating,
			energy_class = EXCLUDED.energy_class,
			energy_consumption = EXCLUDED.energy_consumption,
			description = EXCLUDED.description,
			features = EXCLUDED.features,
			publication_date = EXCLUDED.publication_date,
			scrape_date = EXCLUDED.scrape_date,
			raw_html_file = EXCLUDED.raw_html_file,
			updated_at = EXCLUDED.updated_at`,
		l.ID, l.SourceSite, l.Identity().Key, l.AgencyListingID, l.SourceURL, l.Title,
		string(l.ContractType), l.Price, l.City, l.Neighborhood, l.Address,
		l.Rooms, l.Bedrooms, l.Bathrooms, l.SquareMeters, l.Floor, l.YearBuilt,
		triToPtr(l.HasElevator), triToPtr(l.HasAirConditioning), triToPtr(l.HasGarage),
		triToPtr(l.IsFurnished), string(l.Heating), l.EnergyClass, l.EnergyConsumption,
		l.Description, features, l.PublicationDate, l.ScrapeDate, l.RawHTMLFile,
		l.CreatedAt, l.UpdatedAt)
	return err
}

func (s *PostgresStore) SearchListings(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	query := `SELECT ` + pgListingColumns + ` FROM listings WHERE TRUE`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Site != "" {
		query += ` AND source_site = ` + arg(f.Site)
	}
	if f.Contract != "" {
		query += ` AND contract_type = ` + arg(string(f.Contract))
	}
	if f.City != "" {
		query += ` AND LOWER(city) = LOWER(` + arg(f.City) + `)`
	}
	if f.MinPrice != nil {
		query += ` AND price >= ` + arg(*f.MinPrice)
	}
	if f.MaxPrice != nil {
		query += ` AND price <= ` + arg(*f.MaxPrice)
	}
	if f.MinSquareMeters != nil {
		query += ` AND square_meters >= ` + arg(*f.MinSquareMeters)
	}
	if f.MinRooms != nil {
		query += ` AND rooms >= ` + arg(*f.MinRooms)
	}
	if f.EnergyClass != "" {
		query += ` AND energy_class = ` + arg(strings.ToUpper(f.EnergyClass))
	}
	if f.Text != "" {
		pattern := "%" + f.Text + "%"
		query += ` AND (title ILIKE ` + arg(pattern) + ` OR description ILIKE ` + arg(pattern) + `)`
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY scrape_date DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) SaveRun(ctx context.Context, r *models.RunReport) error {
	sites, err := json.Marshal(r.Sites)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(r.Errors)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scrape_runs (id, started_at, finished_at, status, discovered, fetched,
			cache_hits, extracted, normalization_failed, skipped,
			listings_new, listings_updated, listings_unchanged, sites, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			discovered = EXCLUDED.discovered,
			fetched = EXCLUDED.fetched,
			cache_hits = EXCLUDED.cache_hits,
			extracted = EXCLUDED.extracted,
			normalization_failed = EXCLUDED.normalization_failed,
			skipped = EXCLUDED.skipped,
			listings_new = EXCLUDED.listings_new,
			listings_updated = EXCLUDED.listings_updated,
			listings_unchanged = EXCLUDED.listings_unchanged,
			sites = EXCLUDED.sites,
			errors = EXCLUDED.errors`,
		r.ID, r.StartedAt, r.FinishedAt, string(r.Status),
		r.Counters.Discovered, r.Counters.Fetched, r.Counters.CacheHits,
		r.Counters.Extracted, r.Counters.NormalizationFailed, r.Counters.Skipped,
		r.Counters.New, r.Counters.Updated, r.Counters.Unchanged, sites, errs)
	return err
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, status, discovered, fetched, cache_hits,
			extracted, normalization_failed, skipped,
			listings_new, listings_updated, listings_unchanged, sites, errors
		FROM scrape_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunReport
	for rows.Next() {
		var r models.RunReport
		var status string
		var sites, errs []byte

		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &status,
			&r.Counters.Discovered, &r.Counters.Fetched, &r.Counters.CacheHits,
			&r.Counters.Extracted, &r.Counters.NormalizationFailed, &r.Counters.Skipped,
			&r.Counters.New, &r.Counters.Updated, &r.Counters.Unchanged,
			&sites, &errs); err != nil {
			return nil, err
		}

		r.Status = models.RunStatus(status)
		if len(sites) > 0 {
			if err := json.Unmarshal(sites, &r.Sites); err != nil {
				return nil, err
			}
		}
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &r.Errors); err != nil {
				return nil, err
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanPgListing(row pgRowScanner) (*models.Listing, error) {
	var l models.Listing
	var identityKey, contract, heating string
	var elevator, airCond, garage, furnished *bool
	var features []byte

	err := row.Scan(&l.ID, &l.SourceSite, &identityKey, &l.AgencyListingID, &l.SourceURL,
		&l.Title, &contract, &l.Price, &l.City, &l.Neighborhood, &l.Address,
		&l.Rooms, &l.Bedrooms, &l.Bathrooms, &l.SquareMeters, &l.Floor, &l.YearBuilt,
		&elevator, &airCond, &garage, &furnished, &heating, &l.EnergyClass,
		&l.EnergyConsumption, &l.Description, &features, &l.PublicationDate,
		&l.ScrapeDate, &l.RawHTMLFile, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	l.ContractType = models.ContractType(contract)
	l.Heating = models.Heating(heating)
	l.HasElevator = triFromPtr(elevator)
	l.HasAirConditioning = triFromPtr(airCond)
	l.HasGarage = triFromPtr(garage)
	l.IsFurnished = triFromPtr(furnished)
	if len(features) > 0 && string(features) != "null" {
		if err := json.Unmarshal(features, &l.Features); err != nil {
			return nil, err
		}
	}
	return &l, nil
}

func triToPtr(t models.TriState) *bool {
	switch t {
	case models.TriTrue:
		b := true
		return &b
	case models.TriFalse:
		b := false
		return &b
	}
	return nil
}

func triFromPtr(b *bool) models.TriState {
	if b == nil {
		return models.TriUnknown
	}
	return models.TriFromBool(*b)
}
