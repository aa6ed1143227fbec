// Package services holds the write path between extraction and storage.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"homefinder/models"
	"homefinder/normalize"
	"homefinder/storage"
)

// Outcome describes what Process did with a listing.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// ListingService normalizes raw extractions and upserts them, merging with
// any stored record that shares the same identity.
type ListingService struct {
	store storage.Store
	now   func() time.Time
}

func NewListingService(store storage.Store) *ListingService {
	return &ListingService{store: store, now: time.Now}
}

// Process runs one raw listing through normalization and the merge.
// A normalize.Error means the listing cannot be identified or has no
// resolvable contract; the caller counts those separately from storage
// failures.
func (s *ListingService) Process(ctx context.Context, raw *models.RawListing) (Outcome, error) {
	now := s.now().UTC()

	incoming, err := normalize.Listing(raw, now)
	if err != nil {
		return OutcomeUnchanged, err
	}

	stored, err := s.store.GetListing(ctx, incoming.Identity())
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("lookup %s: %w", incoming.SourceURL, err)
	}

	if stored == nil {
		incoming.ID = uuid.New()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		if err := s.store.SaveListing(ctx, incoming); err != nil {
			return OutcomeUnchanged, fmt.Errorf("insert %s: %w", incoming.SourceURL, err)
		}
		return OutcomeInserted, nil
	}

	merged := Merge(stored, incoming)

	if merged.ContentEqual(stored) {
		// Nothing new, just record that we saw the listing again.
		merged.UpdatedAt = stored.UpdatedAt
		if err := s.store.SaveListing(ctx, merged); err != nil {
			return OutcomeUnchanged, fmt.Errorf("touch %s: %w", merged.SourceURL, err)
		}
		return OutcomeUnchanged, nil
	}

	merged.UpdatedAt = now
	if err := s.store.SaveListing(ctx, merged); err != nil {
		return OutcomeUnchanged, fmt.Errorf("update %s: %w", merged.SourceURL, err)
	}
	return OutcomeUpdated, nil
}

// Merge folds an incoming extraction into the stored record. A known
// incoming value wins over the stored one; an unknown incoming value never
// erases stored knowledge. Identity, row ID and CreatedAt come from the
// stored side, ScrapeDate only moves forward. Merging the same extraction
// twice yields the same record.
func Merge(stored, incoming *models.Listing) *models.Listing {
	out := *incoming

	out.ID = stored.ID
	out.CreatedAt = stored.CreatedAt
	out.UpdatedAt = stored.UpdatedAt

	if out.ScrapeDate.Before(stored.ScrapeDate) {
		out.ScrapeDate = stored.ScrapeDate
	}

	out.AgencyListingID = mergeString(stored.AgencyListingID, incoming.AgencyListingID)
	out.SourceURL = mergeString(stored.SourceURL, incoming.SourceURL)
	out.Title = mergeString(stored.Title, incoming.Title)
	out.City = mergeString(stored.City, incoming.City)
	out.Neighborhood = mergeString(stored.Neighborhood, incoming.Neighborhood)
	out.Address = mergeString(stored.Address, incoming.Address)
	out.EnergyClass = mergeString(stored.EnergyClass, incoming.EnergyClass)
	out.Description = mergeString(stored.Description, incoming.Description)
	out.RawHTMLFile = mergeString(stored.RawHTMLFile, incoming.RawHTMLFile)

	out.Price = mergeFloat(stored.Price, incoming.Price)
	out.SquareMeters = mergeFloat(stored.SquareMeters, incoming.SquareMeters)
	out.EnergyConsumption = mergeFloat(stored.EnergyConsumption, incoming.EnergyConsumption)

	out.Rooms = mergeInt(stored.Rooms, incoming.Rooms)
	out.Bedrooms = mergeInt(stored.Bedrooms, incoming.Bedrooms)
	out.Bathrooms = mergeInt(stored.Bathrooms, incoming.Bathrooms)
	out.Floor = mergeInt(stored.Floor, incoming.Floor)
	out.YearBuilt = mergeInt(stored.YearBuilt, incoming.YearBuilt)

	out.HasElevator = mergeTri(stored.HasElevator, incoming.HasElevator)
	out.HasAirConditioning = mergeTri(stored.HasAirConditioning, incoming.HasAirConditioning)
	out.HasGarage = mergeTri(stored.HasGarage, incoming.HasGarage)
	out.IsFurnished = mergeTri(stored.IsFurnished, incoming.IsFurnished)

	if incoming.Heating == models.HeatingUnknown {
		out.Heating = stored.Heating
	}
	if len(incoming.Features) == 0 {
		out.Features = stored.Features
	}
	if incoming.PublicationDate == nil {
		out.PublicationDate = stored.PublicationDate
	}

	return &out
}

func mergeString(stored, incoming string) string {
	if incoming == "" {
		return stored
	}
	return incoming
}

func mergeFloat(stored, incoming *float64) *float64 {
	if incoming == nil {
		return stored
	}
	return incoming
}

func mergeInt(stored, incoming *int) *int {
	if incoming == nil {
		return stored
	}
	return incoming
}

func mergeTri(stored, incoming models.TriState) models.TriState {
	if incoming == models.TriUnknown {
		return stored
	}
	return incoming
}
