package storage

import (
	"context"

	"github.com/google/uuid"

	"homefinder/models"
)

// Store is the storage-backend contract. All listing mutation goes through
// the upsert engine in services; nothing else writes listing rows.
type Store interface {
	// GetListing returns the stored record for an identity, or nil when the
	// identity has never been seen.
	GetListing(ctx context.Context, id models.Identity) (*models.Listing, error)
	// SaveListing inserts or replaces the row for the listing's identity.
	SaveListing(ctx context.Context, l *models.Listing) error
	GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	SearchListings(ctx context.Context, f ListingFilter) ([]models.Listing, error)

	SaveRun(ctx context.Context, r *models.RunReport) error
	ListRuns(ctx context.Context, limit int) ([]models.RunReport, error)

	Ping(ctx context.Context) error
	Close() error
}

// ListingFilter drives the search/browse queries the API exposes.
type ListingFilter struct {
	Site            string
	Contract        models.ContractType
	City            string
	MinPrice        *float64
	MaxPrice        *float64
	MinSquareMeters *float64
	MinRooms        *int
	EnergyClass     string
	Text            string
	Limit           int
	Offset          int
}
