package models

import "time"

// RawListing is the per-site intermediate record produced by an adapter's
// extraction pass. Every field is optional: a nil pointer, empty string or
// TriUnknown means the extractor could not resolve the field from the page.
// Enum-bearing fields keep the site's free-text vocabulary (ContractText,
// HeatingText); the normalizer coerces them into canonical enums.
type RawListing struct {
	SourceSite      string
	SourceURL       string
	AgencyListingID string
	RawHTMLFile     string

	Title       string
	Description string

	// ContractText is the contract label found on the page itself.
	// SectionContract is the fallback resolved from the listing section the
	// URL was discovered in; adapters must always set it.
	ContractText    string
	SectionContract ContractType

	Price        *float64
	City         string
	Neighborhood string
	Address      string

	Rooms        *int
	Bedrooms     *int
	Bathrooms    *int
	SquareMeters *float64
	Floor        *int
	YearBuilt    *int

	HasElevator        TriState
	HasAirConditioning TriState
	HasGarage          TriState
	IsFurnished        TriState

	HeatingText       string
	EnergyClass       string
	EnergyConsumption *float64

	Features        []string
	PublicationDate *time.Time
}
