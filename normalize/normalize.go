// Package normalize converts per-site raw field records into the canonical
// listing schema: enum coercion from site vocabularies, defaulting, and
// identity establishment. It is pure; callers own persistence.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"homefinder/models"
)

// Error means a raw record could not be normalized, almost always because
// no identity key could be established. It carries the offending record for
// diagnosis; callers treat it as a per-listing skip, never an abort.
type Error struct {
	Reason string
	Raw    *models.RawListing
}

func (e *Error) Error() string {
	return "normalize listing: " + e.Reason
}

// contractVocab maps site contract labels to the canonical enum. Matching
// is by substring on the lowercased label; no match falls through to the
// section the listing was discovered in.
var contractVocab = []struct {
	keyword  string
	contract models.ContractType
}{
	{"affitto", models.ContractRent},
	{"locazione", models.ContractRent},
	{"rent", models.ContractRent},
	{"vendita", models.ContractSell},
	{"sale", models.ContractSell},
	{"sell", models.ContractSell},
}

// heatingVocab maps free-text heating descriptions to the canonical enum.
// Ambiguous text stays unknown, never guessed.
var heatingVocab = []struct {
	keyword string
	heating models.Heating
}{
	{"autonomo", models.HeatingAutonomous},
	{"autonomous", models.HeatingAutonomous},
	{"indipendente", models.HeatingAutonomous},
	{"centralizzato", models.HeatingCentralized},
	{"centralized", models.HeatingCentralized},
	{"condominiale", models.HeatingCentralized},
}

var spaceRe = regexp.MustCompile(`\s+`)

// Listing converts a raw per-site record into a canonical Listing. The
// scrape date is stamped with now; storage row metadata (ID, created_at)
// stays zero until the upsert engine persists it.
func Listing(raw *models.RawListing, now time.Time) (*models.Listing, error) {
	if raw.SourceSite == "" {
		return nil, &Error{Reason: "missing source site", Raw: raw}
	}

	agencyID := collapse(raw.AgencyListingID)
	sourceURL := strings.TrimSpace(raw.SourceURL)
	if agencyID == "" && sourceURL == "" {
		return nil, &Error{Reason: "no agency listing id and no source URL", Raw: raw}
	}

	contract, err := resolveContract(raw)
	if err != nil {
		return nil, err
	}

	l := &models.Listing{
		SourceSite:         raw.SourceSite,
		AgencyListingID:    agencyID,
		SourceURL:          sourceURL,
		Title:              collapse(raw.Title),
		ContractType:       contract,
		Price:              positive(raw.Price),
		City:               collapse(raw.City),
		Neighborhood:       collapse(raw.Neighborhood),
		Address:            collapse(raw.Address),
		Rooms:              nonNegative(raw.Rooms),
		Bedrooms:           nonNegative(raw.Bedrooms),
		Bathrooms:          nonNegative(raw.Bathrooms),
		SquareMeters:       positive(raw.SquareMeters),
		Floor:              raw.Floor,
		YearBuilt:          raw.YearBuilt,
		HasElevator:        raw.HasElevator,
		HasAirConditioning: raw.HasAirConditioning,
		HasGarage:          raw.HasGarage,
		IsFurnished:        raw.IsFurnished,
		Heating:            CoerceHeating(raw.HeatingText),
		EnergyClass:        strings.ToUpper(collapse(raw.EnergyClass)),
		EnergyConsumption:  positive(raw.EnergyConsumption),
		Description:        strings.TrimSpace(raw.Description),
		Features:           normalizeFeatures(raw.Features),
		PublicationDate:    raw.PublicationDate,
		ScrapeDate:         now,
		RawHTMLFile:        raw.RawHTMLFile,
	}

	return l, nil
}

// resolveContract coerces the page's own contract label, falling back to
// the listing section the URL came from. The canonical record never has an
// unknown contract.
func resolveContract(raw *models.RawListing) (models.ContractType, error) {
	text := strings.ToLower(raw.ContractText)
	for _, v := range contractVocab {
		if strings.Contains(text, v.keyword) {
			return v.contract, nil
		}
	}
	if raw.SectionContract != "" {
		return raw.SectionContract, nil
	}
	return "", &Error{Reason: fmt.Sprintf("cannot resolve contract type from %q", raw.ContractText), Raw: raw}
}

// CoerceHeating maps a site's free-text heating description to the
// canonical enum, defaulting to unknown.
func CoerceHeating(text string) models.Heating {
	t := strings.ToLower(text)
	for _, v := range heatingVocab {
		if strings.Contains(t, v.keyword) {
			return v.heating
		}
	}
	return models.HeatingUnknown
}

// positive drops zero and negative values: a price of 0 is an extraction
// artifact, not a price.
func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func nonNegative(v *int) *int {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func normalizeFeatures(features []string) []string {
	seen := make(map[string]struct{}, len(features))
	var out []string
	for _, f := range features {
		f = collapse(f)
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// collapse trims and folds internal whitespace so that formatting noise in
// the source HTML never produces a different canonical value or identity.
func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
