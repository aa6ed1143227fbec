package scraper

import (
	"context"
	"fmt"
	"testing"

	"homefinder/contentstore"
	"homefinder/models"
)

// stubFetcher serves canned page bodies by URL; anything else is a 404,
// which is exactly the exhaustion signal paginated sites emit.
type stubFetcher struct {
	pages map[string]string
	calls []string
}

func (f *stubFetcher) Fetch(_ context.Context, pageURL string) (contentstore.Result, error) {
	f.calls = append(f.calls, pageURL)
	body, ok := f.pages[pageURL]
	if !ok {
		return contentstore.Result{}, fmt.Errorf("%s: %w", pageURL, contentstore.ErrNotFound)
	}
	return contentstore.Result{Body: []byte(body)}, nil
}

func (f *stubFetcher) HasFresh(string) bool { return false }

func tettorossoIndexPage(ids ...int) string {
	page := "<html><body>"
	for _, id := range ids {
		page += fmt.Sprintf(
			`<div class="property_item"><div class="image"><a href="/immobile.php?azione=dettaglio&id=%d"></a><a href="/wishlist.php?id=%d"></a></div></div>`,
			id, id)
	}
	return page + "</body></html>"
}

func galileoBatchPage(slugs ...string) string {
	page := "<html><body>"
	for _, slug := range slugs {
		page += fmt.Sprintf(
			`<article class="annuncio"><a class="annuncio-link" href="/annunci/%s"></a></article>`, slug)
	}
	return page + "</body></html>"
}

func drainDiscovery(t *testing.T, adapter Adapter, maxSteps int) ([]string, int) {
	t.Helper()
	var urls []string
	token := ""
	for steps := 0; steps < maxSteps; steps++ {
		page, err := adapter.DiscoverPage(context.Background(), token)
		if err != nil {
			t.Fatalf("discover step %d: %v", steps, err)
		}
		urls = append(urls, page.URLs...)
		if page.Exhausted {
			return urls, steps + 1
		}
		token = page.Next
	}
	t.Fatalf("discovery did not terminate within %d steps", maxSteps)
	return nil, 0
}

func TestTettorossoPaginationStopsOn404(t *testing.T) {
	cfg := testSiteConfig(t, "tettorosso")
	base := cfg.BaseURL + cfg.Sections[0].Path
	rentBase := cfg.BaseURL + cfg.Sections[1].Path

	f := &stubFetcher{pages: map[string]string{
		base + "&start=0":     tettorossoIndexPage(1, 2, 3),
		base + "&start=12":    tettorossoIndexPage(4, 5),
		rentBase + "&start=0": tettorossoIndexPage(6),
		// rent start=12 is a 404: the section ends there.
	}}

	adapter, err := NewAdapter(cfg, f)
	if err != nil {
		t.Fatal(err)
	}

	urls, _ := drainDiscovery(t, adapter, 20)
	if len(urls) != 6 {
		t.Fatalf("discovered %d urls, want 6: %v", len(urls), urls)
	}
	// Wishlist links in the card markup never leak into discovery.
	for _, u := range urls {
		if u == "" || len(u) < len(cfg.BaseURL) {
			t.Fatalf("bad discovered url %q", u)
		}
	}
}

func TestTettorossoEmptyIndexAdvancesSection(t *testing.T) {
	cfg := testSiteConfig(t, "tettorosso")
	base := cfg.BaseURL + cfg.Sections[0].Path

	f := &stubFetcher{pages: map[string]string{
		base + "&start=0": tettorossoIndexPage(), // present but empty
	}}
	adapter, err := NewAdapter(cfg, f)
	if err != nil {
		t.Fatal(err)
	}

	urls, _ := drainDiscovery(t, adapter, 10)
	if len(urls) != 0 {
		t.Fatalf("expected no urls, got %v", urls)
	}
}

func TestGalileoProgressiveStopsOnEmptyBatch(t *testing.T) {
	cfg := testSiteConfig(t, "galileo")
	sell := cfg.BaseURL + cfg.Sections[0].Path
	rent := cfg.BaseURL + cfg.Sections[1].Path

	f := &stubFetcher{pages: map[string]string{
		sell + "&offset=0": galileoBatchPage("villa-1", "villa-2"),
		sell + "&offset=2": galileoBatchPage("villa-3"),
		sell + "&offset=3": galileoBatchPage(), // well ran dry
		rent + "&offset=0": galileoBatchPage(),
	}}

	adapter, err := NewAdapter(cfg, f)
	if err != nil {
		t.Fatal(err)
	}

	urls, _ := drainDiscovery(t, adapter, 20)
	if len(urls) != 3 {
		t.Fatalf("discovered %d urls, want 3: %v", len(urls), urls)
	}
}

func TestDiscoveryRestartIsIdempotent(t *testing.T) {
	cfg := testSiteConfig(t, "galileo")
	sell := cfg.BaseURL + cfg.Sections[0].Path
	rent := cfg.BaseURL + cfg.Sections[1].Path

	f := &stubFetcher{pages: map[string]string{
		sell + "&offset=0": galileoBatchPage("a"),
		sell + "&offset=1": galileoBatchPage(),
		rent + "&offset=0": galileoBatchPage(),
	}}
	adapter, err := NewAdapter(cfg, f)
	if err != nil {
		t.Fatal(err)
	}

	first, _ := drainDiscovery(t, adapter, 10)
	second, _ := drainDiscovery(t, adapter, 10)
	if len(first) != len(second) {
		t.Fatalf("restarted discovery diverged: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("restarted discovery diverged at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestSectionContractRecordedForExtraction(t *testing.T) {
	cfg := testSiteConfig(t, "galileo")
	sell := cfg.BaseURL + cfg.Sections[0].Path
	rent := cfg.BaseURL + cfg.Sections[1].Path

	f := &stubFetcher{pages: map[string]string{
		sell + "&offset=0": galileoBatchPage(),
		rent + "&offset=0": galileoBatchPage("bilocale-9"),
		rent + "&offset=1": galileoBatchPage(),
	}}
	adapter, err := NewAdapter(cfg, f)
	if err != nil {
		t.Fatal(err)
	}

	urls, _ := drainDiscovery(t, adapter, 10)
	if len(urls) != 1 {
		t.Fatalf("discovered %d urls, want 1", len(urls))
	}

	// Detail page with no contract label anywhere: the rent section it was
	// discovered in is the fallback.
	raw, err := adapter.ExtractListing([]byte(
		`<html><body><h1 class="annuncio-titolo">Bilocale</h1></body></html>`), urls[0])
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if raw.SectionContract != models.ContractRent {
		t.Fatalf("section contract = %s, want rent", raw.SectionContract)
	}
}

func TestNewAdapterUnknown(t *testing.T) {
	cfg := testSiteConfig(t, "tettorosso")
	cfg.Adapter = "nope"
	if _, err := NewAdapter(cfg, nil); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}

func TestExtractUnrecognizableMarkup(t *testing.T) {
	adapter, err := NewAdapter(testSiteConfig(t, "tettorosso"), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = adapter.ExtractListing([]byte("<html><body><p>503</p></body></html>"), "https://example.test/x")
	if err == nil {
		t.Fatal("expected extract error for unrecognizable page")
	}
}
