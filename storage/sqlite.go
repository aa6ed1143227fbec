package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"homefinder/models"
)

// SQLiteStore is the default storage backend: a single local file, good for
// one daemon plus the read-only API.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		source_site TEXT NOT NULL,
		identity_key TEXT NOT NULL,
		agency_listing_id TEXT,
		source_url TEXT,
		title TEXT,
		contract_type TEXT NOT NULL,
		price REAL,
		city TEXT,
		neighborhood TEXT,
		address TEXT,
		rooms INTEGER,
		bedrooms INTEGER,
		bathrooms INTEGER,
		square_meters REAL,
		floor INTEGER,
		year_built INTEGER,
		has_elevator INTEGER,
		has_air_conditioning INTEGER,
		has_garage INTEGER,
		is_furnished INTEGER,
		heating TEXT NOT NULL DEFAULT 'unknown',
		energy_class TEXT,
		energy_consumption REAL,
		description TEXT,
		features JSON,
		publication_date DATETIME,
		scrape_date DATETIME NOT NULL,
		raw_html_file TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(source_site, identity_key)
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		discovered INTEGER DEFAULT 0,
		fetched INTEGER DEFAULT 0,
		cache_hits INTEGER DEFAULT 0,
		extracted INTEGER DEFAULT 0,
		normalization_failed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		listings_new INTEGER DEFAULT 0,
		listings_updated INTEGER DEFAULT 0,
		listings_unchanged INTEGER DEFAULT 0,
		sites JSON,
		errors JSON
	);

	CREATE INDEX IF NOT EXISTS idx_listings_site ON listings(source_site);
	CREATE INDEX IF NOT EXISTS idx_listings_contract ON listings(contract_type);
	CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price);
	CREATE INDEX IF NOT EXISTS idx_listings_city ON listings(city);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON scrape_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const listingColumns = `id, source_site, identity_key, agency_listing_id, source_url, title,
	contract_type, price, city, neighborhood, address, rooms, bedrooms, bathrooms,
	square_meters, floor, year_built, has_elevator, has_air_conditioning, has_garage,
	is_furnished, heating, energy_class, energy_consumption, description, features,
	publication_date, scrape_date, raw_html_file, created_at, updated_at`

func (s *SQLiteStore) GetListing(ctx context.Context, id models.Identity) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE source_site = ? AND identity_key = ?`,
		id.SourceSite, id.Key)
	return scanListing(row)
}

func (s *SQLiteStore) GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id.String())
	return scanListing(row)
}

func (s *SQLiteStore) SaveListing(ctx context.Context, l *models.Listing) error {
	features, err := json.Marshal(l.Features)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_site, identity_key) DO UPDATE SET
			agency_listing_id = excluded.agency_listing_id,
			source_url = excluded.source_url,
			title = excluded.title,
			contract_type = excluded.contract_type,
			price = excluded.price,
			city = excluded.city,
			neighborhood = excluded.neighborhood,
			address = excluded.address,
			rooms = excluded.rooms,
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			square_meters = excluded.square_meters,
			floor = excluded.floor,
			year_built = excluded.year_built,
			has_elevator = excluded.has_elevator,
			has_air_conditioning = excluded.has_air_conditioning,
			has_garage = excluded.has_garage,
			is_furnished = excluded.is_furnished,
			heating = excluded.heating,
			energy_class = excluded.energy_class,
			energy_consumption = excluded.energy_consumption,
			description = excluded.description,
			features = excluded.features,
			publication_date = excluded.publication_date,
			scrape_date = excluded.scrape_date,
			raw_html_file = excluded.raw_html_file,
			updated_at = excluded.updated_at`,
		l.ID.String(), l.SourceSite, l.Identity().Key, l.AgencyListingID, l.SourceURL, l.Title,
		string(l.ContractType), nullFloat(l.Price), l.City, l.Neighborhood, l.Address,
		nullInt(l.Rooms), nullInt(l.Bedrooms), nullInt(l.Bathrooms),
		nullFloat(l.SquareMeters), nullInt(l.Floor), nullInt(l.YearBuilt),
		triToNull(l.HasElevator), triToNull(l.HasAirConditioning), triToNull(l.HasGarage),
		triToNull(l.IsFurnished), string(l.Heating), l.EnergyClass,
		nullFloat(l.EnergyConsumption), l.Description, string(features),
		nullTime(l.PublicationDate), l.ScrapeDate, l.RawHTMLFile, l.CreatedAt, l.UpdatedAt)
	return err
}

func (s *SQLiteStore) SearchListings(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	var args []any

	if f.Site != "" {
		query += ` AND source_site = ?`
		args = append(args, f.Site)
	}
	if f.Contract != "" {
		query += ` AND contract_type = ?`
		args = append(args, string(f.Contract))
	}
	if f.City != "" {
		query += ` AND city = ? COLLATE NOCASE`
		args = append(args, f.City)
	}
	if f.MinPrice != nil {
		query += ` AND price >= ?`
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		query += ` AND price <= ?`
		args = append(args, *f.MaxPrice)
	}
	if f.MinSquareMeters != nil {
		query += ` AND square_meters >= ?`
		args = append(args, *f.MinSquareMeters)
	}
	if f.MinRooms != nil {
		query += ` AND rooms >= ?`
		args = append(args, *f.MinRooms)
	}
	if f.EnergyClass != "" {
		query += ` AND energy_class = ?`
		args = append(args, strings.ToUpper(f.EnergyClass))
	}
	if f.Text != "" {
		query += ` AND (title LIKE ? OR description LIKE ?)`
		pattern := "%" + f.Text + "%"
		args = append(args, pattern, pattern)
	}

	query += ` ORDER BY scrape_date DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, r *models.RunReport) error {
	sites, err := json.Marshal(r.Sites)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(r.Errors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (id, started_at, finished_at, status, discovered, fetched,
			cache_hits, extracted, normalization_failed, skipped,
			listings_new, listings_updated, listings_unchanged, sites, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			discovered = excluded.discovered,
			fetched = excluded.fetched,
			cache_hits = excluded.cache_hits,
			extracted = excluded.extracted,
			normalization_failed = excluded.normalization_failed,
			skipped = excluded.skipped,
			listings_new = excluded.listings_new,
			listings_updated = excluded.listings_updated,
			listings_unchanged = excluded.listings_unchanged,
			sites = excluded.sites,
			errors = excluded.errors`,
		r.ID.String(), r.StartedAt, nullTime(r.FinishedAt), string(r.Status),
		r.Counters.Discovered, r.Counters.Fetched, r.Counters.CacheHits,
		r.Counters.Extracted, r.Counters.NormalizationFailed, r.Counters.Skipped,
		r.Counters.New, r.Counters.Updated, r.Counters.Unchanged,
		string(sites), string(errs))
	return err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, discovered, fetched, cache_hits,
			extracted, normalization_failed, skipped,
			listings_new, listings_updated, listings_unchanged, sites, errors
		FROM scrape_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunReport
	for rows.Next() {
		var r models.RunReport
		var idStr, status string
		var finished sql.NullTime
		var sites, errs sql.NullString

		if err := rows.Scan(&idStr, &r.StartedAt, &finished, &status,
			&r.Counters.Discovered, &r.Counters.Fetched, &r.Counters.CacheHits,
			&r.Counters.Extracted, &r.Counters.NormalizationFailed, &r.Counters.Skipped,
			&r.Counters.New, &r.Counters.Updated, &r.Counters.Unchanged,
			&sites, &errs); err != nil {
			return nil, err
		}

		r.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("run id %q: %w", idStr, err)
		}
		r.Status = models.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		if sites.Valid && sites.String != "" {
			if err := json.Unmarshal([]byte(sites.String), &r.Sites); err != nil {
				return nil, err
			}
		}
		if errs.Valid && errs.String != "" {
			if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
				return nil, err
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var idStr, identityKey, contract, heating string
	var agencyID, sourceURL, title, city, neighborhood, address sql.NullString
	var energyClass, description, features, rawHTMLFile sql.NullString
	var price, sqm, energyConsumption sql.NullFloat64
	var rooms, bedrooms, bathrooms, floor, yearBuilt sql.NullInt64
	var elevator, airCond, garage, furnished sql.NullBool
	var publication sql.NullTime

	err := row.Scan(&idStr, &l.SourceSite, &identityKey, &agencyID, &sourceURL, &title,
		&contract, &price, &city, &neighborhood, &address, &rooms, &bedrooms, &bathrooms,
		&sqm, &floor, &yearBuilt, &elevator, &airCond, &garage, &furnished,
		&heating, &energyClass, &energyConsumption, &description, &features,
		&publication, &l.ScrapeDate, &rawHTMLFile, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	l.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("listing id %q: %w", idStr, err)
	}
	l.AgencyListingID = agencyID.String
	l.SourceURL = sourceURL.String
	l.Title = title.String
	l.ContractType = models.ContractType(contract)
	l.Price = floatFromNull(price)
	l.City = city.String
	l.Neighborhood = neighborhood.String
	l.Address = address.String
	l.Rooms = intFromNull(rooms)
	l.Bedrooms = intFromNull(bedrooms)
	l.Bathrooms = intFromNull(bathrooms)
	l.SquareMeters = floatFromNull(sqm)
	l.Floor = intFromNull(floor)
	l.YearBuilt = intFromNull(yearBuilt)
	l.HasElevator = triFromNull(elevator)
	l.HasAirConditioning = triFromNull(airCond)
	l.HasGarage = triFromNull(garage)
	l.IsFurnished = triFromNull(furnished)
	l.Heating = models.Heating(heating)
	l.EnergyClass = energyClass.String
	l.EnergyConsumption = floatFromNull(energyConsumption)
	l.Description = description.String
	l.RawHTMLFile = rawHTMLFile.String
	if publication.Valid {
		t := publication.Time
		l.PublicationDate = &t
	}
	if features.Valid && features.String != "" && features.String != "null" {
		if err := json.Unmarshal([]byte(features.String), &l.Features); err != nil {
			return nil, err
		}
	}
	return &l, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

// triToNull stores unknown as NULL so that SQL never conflates it with
// false.
func triToNull(t models.TriState) any {
	switch t {
	case models.TriTrue:
		return true
	case models.TriFalse:
		return false
	}
	return nil
}

func triFromNull(v sql.NullBool) models.TriState {
	if !v.Valid {
		return models.TriUnknown
	}
	return models.TriFromBool(v.Bool)
}

func floatFromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
