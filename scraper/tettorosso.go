package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"homefinder/config"
	"homefinder/contentstore"
	"homefinder/models"
)

const tettorossoTitleSuffix = " | Tetto Rosso Immobiliare"

// tettorossoAdapter scrapes tettorossoimmobiliare.it: classic offset-based
// pagination where requesting past the last page answers 404, and listing
// details in a label/value table inside #caratt.
type tettorossoAdapter struct {
	cfg     *config.SiteConfig
	fetcher contentstore.Fetcher

	mu       sync.RWMutex
	contract map[string]models.ContractType // discovered URL -> section contract
}

func newTettorossoAdapter(cfg *config.SiteConfig, fetcher contentstore.Fetcher) *tettorossoAdapter {
	return &tettorossoAdapter{
		cfg:      cfg,
		fetcher:  fetcher,
		contract: make(map[string]models.ContractType),
	}
}

func (a *tettorossoAdapter) Site() string {
	return a.cfg.ID
}

func (a *tettorossoAdapter) DiscoverPage(ctx context.Context, token string) (Page, error) {
	section, offset, err := splitToken(token)
	if err != nil {
		return Page{}, err
	}
	if section >= len(a.cfg.Sections) {
		return Page{Exhausted: true}, nil
	}

	sec := a.cfg.Sections[section]
	indexURL := fmt.Sprintf("%s%s&start=%d", a.cfg.BaseURL, sec.Path, offset)

	res, err := a.fetcher.Fetch(ctx, indexURL)
	if errors.Is(err, contentstore.ErrNotFound) {
		// Past the last page of this section.
		return a.advanceSection(section), nil
	}
	if err != nil {
		return Page{}, err
	}

	urls, err := a.parseIndex(res.Body)
	if err != nil {
		return Page{}, err
	}
	if len(urls) == 0 {
		return a.advanceSection(section), nil
	}

	a.mu.Lock()
	for _, u := range urls {
		a.contract[u] = sectionContract(sec)
	}
	a.mu.Unlock()

	return Page{
		URLs: urls,
		Next: joinToken(section, offset+a.cfg.PageSize),
	}, nil
}

func (a *tettorossoAdapter) advanceSection(section int) Page {
	if section+1 >= len(a.cfg.Sections) {
		return Page{Exhausted: true}
	}
	return Page{Next: joinToken(section+1, 0)}
}

func (a *tettorossoAdapter) parseIndex(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var urls []string
	doc.Find("div.property_item div.image a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.Contains(href, "wishlist") {
			return
		}
		urls = append(urls, a.absoluteURL(href))
	})
	return urls, nil
}

func (a *tettorossoAdapter) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return a.cfg.BaseURL + "/" + strings.TrimPrefix(href, "/")
}

func (a *tettorossoAdapter) ExtractListing(body []byte, pageURL string) (*models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ExtractError{URL: pageURL, Err: err}
	}

	raw := &models.RawListing{
		SourceSite:      a.cfg.ID,
		SourceURL:       pageURL,
		SectionContract: a.discoveredContract(pageURL),
	}

	if canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && canonical != "" {
		raw.SourceURL = canonical
	}

	title := cleanText(doc.Find("title").Text())
	raw.Title = cleanText(strings.TrimSuffix(title, strings.TrimSpace(tettorossoTitleSuffix)))
	raw.ContractText = cleanText(doc.Find("span.tag").First().Text())

	// Description is the #caratt block stripped of the details table.
	caratt := doc.Find("#caratt").Clone()
	caratt.Find(".property-d-table").Remove()
	raw.Description = strings.TrimSpace(caratt.Text())

	table := doc.Find("#caratt .property-d-table tbody")
	raw.Price = parsePositiveNumber(a.tableField(table, "Prezzo"))
	raw.SquareMeters = parsePositiveNumber(a.tableField(table, "Metri quadri"))
	raw.Rooms = parseCount(a.tableField(table, "Locali"))
	raw.Bedrooms = parseCount(a.tableField(table, "Camere"))
	raw.Bathrooms = parseCount(a.tableField(table, "Bagni"))
	raw.Floor = parseFloor(a.tableField(table, "Piano"))
	raw.YearBuilt = parseYear(a.tableField(table, "Anno di costruzione"))
	raw.AgencyListingID = cleanText(a.tableField(table, "Codice"))
	raw.City = cleanText(a.tableField(table, "Comune"))
	raw.Neighborhood = cleanText(a.tableField(table, "Zona"))
	raw.EnergyConsumption = parsePositiveNumber(a.tableField(table, "Consumo energetico"))

	if style, ok := doc.Find("div.bgimg").Attr("style"); ok {
		raw.EnergyClass = energyClassFromStyle(style)
	}

	ambienti := a.tableField(table, "Ambienti")
	comfort := a.tableField(table, "Comfort")

	raw.HasGarage = featurePresence(ambienti, "garage", "box auto")
	raw.IsFurnished = featurePresence(ambienti, "arredato")
	raw.HasElevator = featurePresence(comfort, "ascensore")
	raw.HasAirConditioning = featurePresence(comfort, "aria condizionata", "condizionatore")
	raw.HeatingText = cleanText(comfort)

	raw.Features = append(splitFeatures(ambienti), splitFeatures(comfort)...)

	if raw.Title == "" && raw.Price == nil && table.Length() == 0 {
		return nil, &ExtractError{URL: pageURL, Err: fmt.Errorf("page has no recognizable listing markup")}
	}

	return raw, nil
}

// tableField finds the value cell next to a label cell in the details
// table. A structural mismatch yields "" (the field stays unknown) and is
// logged once; it never fails the listing.
func (a *tettorossoAdapter) tableField(table *goquery.Selection, label string) string {
	var value string
	found := false

	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return true
		}
		if !strings.EqualFold(cleanText(cells.Eq(0).Text()), label) {
			return true
		}
		value = cells.Eq(1).Text()
		found = true
		return false
	})

	if !found && table.Length() > 0 {
		log.Printf("tettorosso: field %q not found in details table", label)
	}
	return value
}

func (a *tettorossoAdapter) discoveredContract(pageURL string) models.ContractType {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if c, ok := a.contract[pageURL]; ok {
		return c
	}
	// Direct extraction without discovery (fixtures, re-scrapes of cached
	// pages): Tettorosso's index defaults to the sale section.
	return models.ContractSell
}
