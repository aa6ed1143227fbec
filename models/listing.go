package models

import (
	"time"

	"github.com/google/uuid"
)

type ContractType string

const (
	ContractSell ContractType = "sell"
	ContractRent ContractType = "rent"
)

type Heating string

const (
	HeatingAutonomous  Heating = "autonomous"
	HeatingCentralized Heating = "centralized"
	HeatingUnknown     Heating = "unknown"
)

// TriState is a boolean whose absence from a page is not a negative fact.
type TriState int

const (
	TriUnknown TriState = iota
	TriFalse
	TriTrue
)

func TriFromBool(b bool) TriState {
	if b {
		return TriTrue
	}
	return TriFalse
}

func (t TriState) Known() bool {
	return t != TriUnknown
}

func (t TriState) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	}
	return "unknown"
}

// MarshalJSON renders unknown as null so API consumers see three states.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case TriTrue:
		return []byte("true"), nil
	case TriFalse:
		return []byte("false"), nil
	}
	return []byte("null"), nil
}

func (t *TriState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*t = TriTrue
	case "false":
		*t = TriFalse
	default:
		*t = TriUnknown
	}
	return nil
}

// Identity is the unique key for a listing: the agency's own listing code
// when the site exposes one, otherwise the listing URL.
type Identity struct {
	SourceSite string
	Key        string
}

// Listing is the canonical record every site adapter normalizes into.
type Listing struct {
	ID                 uuid.UUID    `json:"id"`
	SourceSite         string       `json:"source_site"`
	AgencyListingID    string       `json:"agency_listing_id,omitempty"`
	SourceURL          string       `json:"source_url"`
	Title              string       `json:"title"`
	ContractType       ContractType `json:"contract_type"`
	Price              *float64     `json:"price"`
	City               string       `json:"city,omitempty"`
	Neighborhood       string       `json:"neighborhood,omitempty"`
	Address            string       `json:"address,omitempty"`
	Rooms              *int         `json:"rooms"`
	Bedrooms           *int         `json:"bedrooms"`
	Bathrooms          *int         `json:"bathrooms"`
	SquareMeters       *float64     `json:"square_meters"`
	Floor              *int         `json:"floor"`
	YearBuilt          *int         `json:"year_built"`
	HasElevator        TriState     `json:"has_elevator"`
	HasAirConditioning TriState     `json:"has_air_conditioning"`
	HasGarage          TriState     `json:"has_garage"`
	IsFurnished        TriState     `json:"is_furnished"`
	Heating            Heating      `json:"heating"`
	EnergyClass        string       `json:"energy_class,omitempty"`
	EnergyConsumption  *float64     `json:"energy_consumption"`
	Description        string       `json:"description,omitempty"`
	Features           []string     `json:"features,omitempty"`
	PublicationDate    *time.Time   `json:"publication_date"`
	ScrapeDate         time.Time    `json:"scrape_date"`
	RawHTMLFile        string       `json:"raw_html_file,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (l *Listing) Identity() Identity {
	key := l.AgencyListingID
	if key == "" {
		key = l.SourceURL
	}
	return Identity{SourceSite: l.SourceSite, Key: key}
}

// ContentEqual reports whether two listings carry the same extracted data,
// ignoring row metadata and scrape timestamps. The upsert engine uses it to
// detect the cache-hit path where only scrape_date needs to advance.
func (l *Listing) ContentEqual(o *Listing) bool {
	if l.SourceSite != o.SourceSite ||
		l.AgencyListingID != o.AgencyListingID ||
		l.SourceURL != o.SourceURL ||
		l.Title != o.Title ||
		l.ContractType != o.ContractType ||
		l.City != o.City ||
		l.Neighborhood != o.Neighborhood ||
		l.Address != o.Address ||
		l.HasElevator != o.HasElevator ||
		l.HasAirConditioning != o.HasAirConditioning ||
		l.HasGarage != o.HasGarage ||
		l.IsFurnished != o.IsFurnished ||
		l.Heating != o.Heating ||
		l.EnergyClass != o.EnergyClass ||
		l.Description != o.Description ||
		l.RawHTMLFile != o.RawHTMLFile {
		return false
	}
	if !floatPtrEqual(l.Price, o.Price) ||
		!floatPtrEqual(l.SquareMeters, o.SquareMeters) ||
		!floatPtrEqual(l.EnergyConsumption, o.EnergyConsumption) {
		return false
	}
	if !intPtrEqual(l.Rooms, o.Rooms) ||
		!intPtrEqual(l.Bedrooms, o.Bedrooms) ||
		!intPtrEqual(l.Bathrooms, o.Bathrooms) ||
		!intPtrEqual(l.Floor, o.Floor) ||
		!intPtrEqual(l.YearBuilt, o.YearBuilt) {
		return false
	}
	if !timePtrEqual(l.PublicationDate, o.PublicationDate) {
		return false
	}
	if len(l.Features) != len(o.Features) {
		return false
	}
	for i := range l.Features {
		if l.Features[i] != o.Features[i] {
			return false
		}
	}
	return true
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func IntPtr(v int) *int           { return &v }
func FloatPtr(v float64) *float64 { return &v }
