package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"homefinder/models"
	"homefinder/storage"
)

type memStore struct {
	listings map[models.Identity]*models.Listing
	saves    int
}

func newMemStore() *memStore {
	return &memStore{listings: make(map[models.Identity]*models.Listing)}
}

func (s *memStore) GetListing(_ context.Context, id models.Identity) (*models.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) SaveListing(_ context.Context, l *models.Listing) error {
	cp := *l
	s.listings[l.Identity()] = &cp
	s.saves++
	return nil
}

func (s *memStore) GetListingByID(context.Context, uuid.UUID) (*models.Listing, error) {
	return nil, nil
}

func (s *memStore) SearchListings(context.Context, storage.ListingFilter) ([]models.Listing, error) {
	return nil, nil
}

func (s *memStore) SaveRun(context.Context, *models.RunReport) error          { return nil }
func (s *memStore) ListRuns(context.Context, int) ([]models.RunReport, error) { return nil, nil }
func (s *memStore) Ping(context.Context) error                                { return nil }
func (s *memStore) Close() error                                              { return nil }

func rawFixture() *models.RawListing {
	return &models.RawListing{
		SourceSite:      "tettorosso",
		SourceURL:       "https://www.tettorossoimmobiliare.it/immobile.php?id=7",
		AgencyListingID: "TR-7",
		Title:           "Bilocale arredato",
		ContractText:    "Affitto",
		SectionContract: models.ContractRent,
		Price:           models.FloatPtr(650),
		HeatingText:     "autonomo",
		IsFurnished:     models.TriTrue,
	}
}

func serviceAt(store storage.Store, at time.Time) *ListingService {
	s := NewListingService(store)
	s.now = func() time.Time { return at }
	return s
}

func TestProcessInsertsNewListing(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)

	outcome, err := serviceAt(store, now).Process(context.Background(), rawFixture())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeInserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}

	got := store.listings[models.Identity{SourceSite: "tettorosso", Key: "TR-7"}]
	if got == nil {
		t.Fatal("listing not stored")
	}
	if got.ID == uuid.Nil {
		t.Fatal("insert must assign a row ID")
	}
	if !got.CreatedAt.Equal(now) || !got.ScrapeDate.Equal(now) {
		t.Fatalf("timestamps = %v / %v, want %v", got.CreatedAt, got.ScrapeDate, now)
	}
	if got.Heating != models.HeatingAutonomous {
		t.Fatalf("heating = %s", got.Heating)
	}
}

func TestProcessSecondPassIsUnchanged(t *testing.T) {
	store := newMemStore()
	t0 := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(6 * time.Hour)

	if _, err := serviceAt(store, t0).Process(context.Background(), rawFixture()); err != nil {
		t.Fatal(err)
	}
	first := *store.listings[models.Identity{SourceSite: "tettorosso", Key: "TR-7"}]

	outcome, err := serviceAt(store, t1).Process(context.Background(), rawFixture())
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %s, want unchanged", outcome)
	}

	second := *store.listings[models.Identity{SourceSite: "tettorosso", Key: "TR-7"}]
	if second.ID != first.ID {
		t.Fatal("row ID must be stable across passes")
	}
	if !second.ScrapeDate.Equal(t1) {
		t.Fatalf("scrape date = %v, want %v", second.ScrapeDate, t1)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatal("unchanged pass must not touch updated_at")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("unchanged pass must not touch created_at")
	}
}

func TestProcessPriceChangeIsUpdate(t *testing.T) {
	store := newMemStore()
	t0 := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	if _, err := serviceAt(store, t0).Process(context.Background(), rawFixture()); err != nil {
		t.Fatal(err)
	}

	// A genuine price drop must overwrite, it is the newest observation.
	cheaper := rawFixture()
	cheaper.Price = models.FloatPtr(600)
	outcome, err := serviceAt(store, t1).Process(context.Background(), cheaper)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("outcome = %s, want updated", outcome)
	}

	got := store.listings[models.Identity{SourceSite: "tettorosso", Key: "TR-7"}]
	if got.Price == nil || *got.Price != 600 {
		t.Fatalf("price = %v, want 600", got.Price)
	}
	if !got.UpdatedAt.Equal(t1) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, t1)
	}
}

func TestProcessNeverRegressesKnownToUnknown(t *testing.T) {
	store := newMemStore()
	t0 := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)

	if _, err := serviceAt(store, t0).Process(context.Background(), rawFixture()); err != nil {
		t.Fatal(err)
	}

	// Re-scrape where the comfort block failed to extract: heating,
	// furnished and price all come back unknown.
	degraded := rawFixture()
	degraded.HeatingText = ""
	degraded.IsFurnished = models.TriUnknown
	degraded.Price = nil

	outcome, err := serviceAt(store, t0.Add(time.Hour)).Process(context.Background(), degraded)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %s, want unchanged", outcome)
	}

	got := store.listings[models.Identity{SourceSite: "tettorosso", Key: "TR-7"}]
	if got.Heating != models.HeatingAutonomous {
		t.Fatalf("heating regressed to %s", got.Heating)
	}
	if got.IsFurnished != models.TriTrue {
		t.Fatalf("furnished regressed to %s", got.IsFurnished)
	}
	if got.Price == nil || *got.Price != 650 {
		t.Fatalf("price regressed to %v", got.Price)
	}
}

func TestProcessFillsUnknownFromNewScrape(t *testing.T) {
	store := newMemStore()
	t0 := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)

	sparse := rawFixture()
	sparse.HeatingText = ""
	sparse.Rooms = nil
	if _, err := serviceAt(store, t0).Process(context.Background(), sparse); err != nil {
		t.Fatal(err)
	}

	richer := rawFixture()
	richer.Rooms = models.IntPtr(2)
	outcome, err := serviceAt(store, t0.Add(time.Hour)).Process(context.Background(), richer)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("outcome = %s, want updated", outcome)
	}

	got := store.listings[models.Identity{SourceSite: "tettorosso", Key: "TR-7"}]
	if got.Rooms == nil || *got.Rooms != 2 {
		t.Fatalf("rooms = %v, want 2", got.Rooms)
	}
	if got.Heating != models.HeatingAutonomous {
		t.Fatalf("heating = %s, want autonomous", got.Heating)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	now := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	stored := &models.Listing{
		ID:              uuid.New(),
		SourceSite:      "tettorosso",
		AgencyListingID: "TR-7",
		Title:           "Bilocale",
		ContractType:    models.ContractRent,
		Price:           models.FloatPtr(650),
		Heating:         models.HeatingAutonomous,
		IsFurnished:     models.TriTrue,
		ScrapeDate:      now.Add(-time.Hour),
		CreatedAt:       now.Add(-48 * time.Hour),
	}
	incoming := &models.Listing{
		SourceSite:      "tettorosso",
		AgencyListingID: "TR-7",
		Title:           "Bilocale ristrutturato",
		ContractType:    models.ContractRent,
		Heating:         models.HeatingUnknown,
		ScrapeDate:      now,
	}

	once := Merge(stored, incoming)
	twice := Merge(once, incoming)

	if !once.ContentEqual(twice) {
		t.Fatal("merging the same extraction twice must be a no-op")
	}
	if !twice.ScrapeDate.Equal(once.ScrapeDate) {
		t.Fatalf("scrape date drifted: %v vs %v", once.ScrapeDate, twice.ScrapeDate)
	}
	if once.Heating != models.HeatingAutonomous {
		t.Fatalf("heating = %s, want preserved autonomous", once.Heating)
	}
	if once.Title != "Bilocale ristrutturato" {
		t.Fatalf("title = %q, want newest", once.Title)
	}
}

func TestMergeScrapeDateNeverMovesBackwards(t *testing.T) {
	now := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	stored := &models.Listing{
		SourceSite:      "tettorosso",
		AgencyListingID: "TR-7",
		ContractType:    models.ContractRent,
		ScrapeDate:      now,
	}
	incoming := &models.Listing{
		SourceSite:      "tettorosso",
		AgencyListingID: "TR-7",
		ContractType:    models.ContractRent,
		ScrapeDate:      now.Add(-time.Hour),
	}

	merged := Merge(stored, incoming)
	if !merged.ScrapeDate.Equal(now) {
		t.Fatalf("scrape date = %v, want %v", merged.ScrapeDate, now)
	}
}
