package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"homefinder/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleListing() *models.Listing {
	now := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	return &models.Listing{
		ID:                 uuid.New(),
		SourceSite:         "tettorosso",
		AgencyListingID:    "TR-1",
		SourceURL:          "https://www.tettorossoimmobiliare.it/immobile.php?id=1",
		Title:              "Trilocale in centro",
		ContractType:       models.ContractSell,
		Price:              models.FloatPtr(185000),
		City:               "Empoli",
		Neighborhood:       "Centro",
		Rooms:              models.IntPtr(3),
		Bathrooms:          models.IntPtr(1),
		SquareMeters:       models.FloatPtr(95),
		Floor:              models.IntPtr(2),
		HasElevator:        models.TriTrue,
		HasAirConditioning: models.TriFalse,
		HasGarage:          models.TriUnknown,
		IsFurnished:        models.TriUnknown,
		Heating:            models.HeatingAutonomous,
		EnergyClass:        "E",
		Features:           []string{"Ascensore", "Cantina"},
		ScrapeDate:         now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestListingRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	want := sampleListing()

	if err := store.SaveListing(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetListing(ctx, want.Identity())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("listing not found after save")
	}
	if got.ID != want.ID {
		t.Fatalf("id = %s, want %s", got.ID, want.ID)
	}
	if !got.ContentEqual(want) {
		t.Fatalf("round trip changed content: %+v vs %+v", got, want)
	}
	// Unknown must come back unknown, not false.
	if got.HasGarage != models.TriUnknown {
		t.Fatalf("has_garage = %s, want unknown", got.HasGarage)
	}
	if got.HasAirConditioning != models.TriFalse {
		t.Fatalf("has_air_conditioning = %s, want false", got.HasAirConditioning)
	}

	byID, err := store.GetListingByID(ctx, want.ID)
	if err != nil || byID == nil {
		t.Fatalf("get by id: %v %v", byID, err)
	}
}

func TestGetListingAbsentIsNil(t *testing.T) {
	store := testStore(t)
	got, err := store.GetListing(context.Background(), models.Identity{SourceSite: "x", Key: "y"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent identity, got %+v", got)
	}
}

func TestSaveListingUpsertsByIdentity(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := sampleListing()
	if err := store.SaveListing(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := sampleListing()
	second.ID = first.ID
	second.Price = models.FloatPtr(179000)
	if err := store.SaveListing(ctx, second); err != nil {
		t.Fatal(err)
	}

	all, err := store.SearchListings(ctx, ListingFilter{Site: "tettorosso"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 row after upsert, got %d", len(all))
	}
	if *all[0].Price != 179000 {
		t.Fatalf("price = %v, want 179000", *all[0].Price)
	}
}

func TestSearchListingsFilters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	cheap := sampleListing()
	if err := store.SaveListing(ctx, cheap); err != nil {
		t.Fatal(err)
	}

	expensive := sampleListing()
	expensive.ID = uuid.New()
	expensive.AgencyListingID = "TR-2"
	expensive.Title = "Villa con piscina"
	expensive.City = "Vinci"
	expensive.Price = models.FloatPtr(750000)
	expensive.ContractType = models.ContractSell
	if err := store.SaveListing(ctx, expensive); err != nil {
		t.Fatal(err)
	}

	rental := sampleListing()
	rental.ID = uuid.New()
	rental.AgencyListingID = "TR-3"
	rental.ContractType = models.ContractRent
	rental.Price = models.FloatPtr(650)
	if err := store.SaveListing(ctx, rental); err != nil {
		t.Fatal(err)
	}

	got, err := store.SearchListings(ctx, ListingFilter{Contract: models.ContractRent})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AgencyListingID != "TR-3" {
		t.Fatalf("rent filter = %d rows", len(got))
	}

	minPrice := 500000.0
	got, err = store.SearchListings(ctx, ListingFilter{MinPrice: &minPrice})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AgencyListingID != "TR-2" {
		t.Fatalf("min price filter = %d rows", len(got))
	}

	got, err = store.SearchListings(ctx, ListingFilter{City: "vinci"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("city filter should be case-insensitive, got %d rows", len(got))
	}

	got, err = store.SearchListings(ctx, ListingFilter{Text: "piscina"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AgencyListingID != "TR-2" {
		t.Fatalf("text filter = %d rows", len(got))
	}

	got, err = store.SearchListings(ctx, ListingFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("limit = %d rows, want 2", len(got))
	}
}

func TestRunRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &models.RunReport{
		ID:        uuid.New(),
		StartedAt: time.Date(2024, time.June, 1, 3, 0, 0, 0, time.UTC),
		Status:    models.RunStatusRunning,
		Sites: []models.SiteReport{{
			Site:     "tettorosso",
			Status:   models.RunStatusCompleted,
			Counters: models.Counters{Discovered: 12, New: 2, Updated: 1},
		}},
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save running: %v", err)
	}

	run.Finish(run.StartedAt.Add(5 * time.Minute))
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save finished: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run (upsert by id), got %d", len(runs))
	}
	got := runs[0]
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Counters.Discovered != 12 || got.Counters.New != 2 {
		t.Fatalf("counters = %+v", got.Counters)
	}
	if len(got.Sites) != 1 || got.Sites[0].Site != "tettorosso" {
		t.Fatalf("sites = %+v", got.Sites)
	}
	if got.FinishedAt == nil {
		t.Fatal("finished_at not persisted")
	}
}
