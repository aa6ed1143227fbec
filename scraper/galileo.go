package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"homefinder/config"
	"homefinder/contentstore"
	"homefinder/models"
)

// galileoAdapter scrapes galileoimmobiliare.it. The listing grid loads
// progressively: a "load more" endpoint returns HTML fragments of listing
// cards until a batch comes back empty. Detail pages carry a dt/dd
// characteristics list and an amenity tag list.
type galileoAdapter struct {
	cfg     *config.SiteConfig
	fetcher contentstore.Fetcher

	mu       sync.RWMutex
	contract map[string]models.ContractType
}

func newGalileoAdapter(cfg *config.SiteConfig, fetcher contentstore.Fetcher) *galileoAdapter {
	return &galileoAdapter{
		cfg:      cfg,
		fetcher:  fetcher,
		contract: make(map[string]models.ContractType),
	}
}

func (a *galileoAdapter) Site() string {
	return a.cfg.ID
}

func (a *galileoAdapter) DiscoverPage(ctx context.Context, token string) (Page, error) {
	section, offset, err := splitToken(token)
	if err != nil {
		return Page{}, err
	}
	if section >= len(a.cfg.Sections) {
		return Page{Exhausted: true}, nil
	}

	sec := a.cfg.Sections[section]
	batchURL := fmt.Sprintf("%s%s&offset=%d", a.cfg.BaseURL, sec.Path, offset)

	res, err := a.fetcher.Fetch(ctx, batchURL)
	if errors.Is(err, contentstore.ErrNotFound) {
		return a.advanceSection(section), nil
	}
	if err != nil {
		return Page{}, err
	}

	urls, err := a.parseBatch(res.Body)
	if err != nil {
		return Page{}, err
	}
	if len(urls) == 0 {
		// The load-more well ran dry: this section is done.
		return a.advanceSection(section), nil
	}

	a.mu.Lock()
	for _, u := range urls {
		a.contract[u] = sectionContract(sec)
	}
	a.mu.Unlock()

	return Page{
		URLs: urls,
		Next: joinToken(section, offset+len(urls)),
	}, nil
}

func (a *galileoAdapter) advanceSection(section int) Page {
	if section+1 >= len(a.cfg.Sections) {
		return Page{Exhausted: true}
	}
	return Page{Next: joinToken(section+1, 0)}
}

func (a *galileoAdapter) parseBatch(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var urls []string
	doc.Find("article.annuncio a.annuncio-link").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			urls = append(urls, a.absoluteURL(href))
		}
	})
	return urls, nil
}

func (a *galileoAdapter) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return a.cfg.BaseURL + "/" + strings.TrimPrefix(href, "/")
}

func (a *galileoAdapter) ExtractListing(body []byte, pageURL string) (*models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ExtractError{URL: pageURL, Err: err}
	}

	raw := &models.RawListing{
		SourceSite:      a.cfg.ID,
		SourceURL:       pageURL,
		SectionContract: a.discoveredContract(pageURL),
	}

	raw.Title = cleanText(doc.Find("h1.annuncio-titolo").Text())
	raw.ContractText = cleanText(doc.Find("span.annuncio-contratto").Text())
	raw.Price = parsePositiveNumber(doc.Find("div.annuncio-prezzo").Text())
	raw.Description = strings.TrimSpace(doc.Find("div.annuncio-descrizione").Text())

	chars := a.characteristics(doc)
	raw.SquareMeters = parsePositiveNumber(chars["superficie"])
	raw.Rooms = parseCount(chars["locali"])
	raw.Bedrooms = parseCount(chars["camere da letto"])
	raw.Bathrooms = parseCount(chars["bagni"])
	raw.Floor = parseFloor(chars["piano"])
	raw.YearBuilt = parseYear(chars["anno di costruzione"])
	raw.AgencyListingID = cleanText(chars["riferimento"])
	raw.City = cleanText(chars["comune"])
	raw.Neighborhood = cleanText(chars["quartiere"])
	raw.HeatingText = cleanText(chars["riscaldamento"])
	raw.EnergyClass = parseEnergyClass(chars["classe energetica"])
	raw.EnergyConsumption = parsePositiveNumber(chars["consumo energetico"])

	var amenities []string
	doc.Find("ul.servizi li").Each(func(_ int, sel *goquery.Selection) {
		if tag := cleanText(sel.Text()); tag != "" {
			amenities = append(amenities, tag)
		}
	})
	raw.Features = amenities

	amenityBlock := strings.ToLower(strings.Join(amenities, ", "))
	raw.HasElevator = featurePresence(amenityBlock, "ascensore")
	raw.HasAirConditioning = featurePresence(amenityBlock, "aria condizionata", "condizionatore")
	raw.HasGarage = featurePresence(amenityBlock, "garage", "box auto")
	raw.IsFurnished = featurePresence(amenityBlock, "arredato")

	if ts, ok := doc.Find("time.pubblicazione").Attr("datetime"); ok {
		raw.PublicationDate = parseItalianDate(ts)
	}

	if raw.Title == "" && raw.Price == nil && len(chars) == 0 {
		return nil, &ExtractError{URL: pageURL, Err: fmt.Errorf("page has no recognizable listing markup")}
	}

	return raw, nil
}

// characteristics flattens the dl.caratteristiche list into a lowercase
// label -> value map.
func (a *galileoAdapter) characteristics(doc *goquery.Document) map[string]string {
	chars := make(map[string]string)
	doc.Find("dl.caratteristiche dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(cleanText(dt.Text()))
		value := dt.NextFiltered("dd").Text()
		if label != "" && cleanText(value) != "" {
			chars[label] = value
		}
	})
	return chars
}

func (a *galileoAdapter) discoveredContract(pageURL string) models.ContractType {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if c, ok := a.contract[pageURL]; ok {
		return c
	}
	return models.ContractSell
}
