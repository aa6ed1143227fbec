package scraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"homefinder/config"
	"homefinder/contentstore"
	"homefinder/models"
)

// Page is one step of listing discovery. Next is the continuation token for
// the following step; Exhausted marks the site's explicit end-of-listings
// signal (404 on a paginated site, an empty batch on a progressive one).
type Page struct {
	URLs      []string
	Next      string
	Exhausted bool
}

// Adapter is the per-site capability contract. Adding a site means adding
// an implementation and a YAML file under config/sites/, never touching the
// orchestrator.
type Adapter interface {
	Site() string
	// DiscoverPage resolves one discovery step. An empty token starts from
	// scratch; re-running from scratch is idempotent.
	DiscoverPage(ctx context.Context, token string) (Page, error)
	// ExtractListing maps one listing document to the site's raw field
	// record. A failure here is isolated to that listing.
	ExtractListing(doc []byte, pageURL string) (*models.RawListing, error)
}

func NewAdapter(cfg *config.SiteConfig, fetcher contentstore.Fetcher) (Adapter, error) {
	switch cfg.Adapter {
	case "tettorosso":
		return newTettorossoAdapter(cfg, fetcher), nil
	case "galileo":
		return newGalileoAdapter(cfg, fetcher), nil
	}
	return nil, fmt.Errorf("unknown adapter %q for site %s", cfg.Adapter, cfg.ID)
}

// Continuation tokens are "<section>:<offset>" so a run can resume mid-site
// and both discovery strategies share one shape.
func splitToken(token string) (section, offset int, err error) {
	if token == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed continuation token %q", token)
	}
	section, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed continuation token %q", token)
	}
	offset, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed continuation token %q", token)
	}
	return section, offset, nil
}

func joinToken(section, offset int) string {
	return fmt.Sprintf("%d:%d", section, offset)
}

func sectionContract(sec config.SiteSection) models.ContractType {
	if sec.Contract == "rent" {
		return models.ContractRent
	}
	return models.ContractSell
}
