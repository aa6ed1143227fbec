package scraper

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"homefinder/config"
	"homefinder/contentstore"
	"homefinder/models"
	"homefinder/normalize"
	"homefinder/services"
	"homefinder/storage"
)

type site struct {
	cfg     *config.SiteConfig
	adapter Adapter
	fetcher contentstore.Fetcher
}

// Orchestrator drives one scrape pass over every configured site. Sites run
// concurrently; per-listing fetches share a site-local worker pool. A broken
// listing, a broken page or a broken site never takes the run down with it.
type Orchestrator struct {
	cfg      *config.Config
	store    storage.Store
	listings *services.ListingService
	sites    []site
}

func NewOrchestrator(ctx context.Context, cfg *config.Config, store storage.Store, content *contentstore.Store) (*Orchestrator, error) {
	if err := store.Ping(ctx); err != nil {
		return nil, &ConfigurationError{Reason: "storage unreachable: " + err.Error()}
	}

	ids := make([]string, 0, len(cfg.Sites))
	for id := range cfg.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		listings: services.NewListingService(store),
	}
	for _, id := range ids {
		sc := cfg.Sites[id]
		fetcher := content.Bind(sc.Render)
		adapter, err := NewAdapter(sc, fetcher)
		if err != nil {
			return nil, &ConfigurationError{Reason: err.Error()}
		}
		o.sites = append(o.sites, site{cfg: sc, adapter: adapter, fetcher: fetcher})
	}

	if len(o.sites) == 0 {
		return nil, &ConfigurationError{Reason: "no sites configured"}
	}
	return o, nil
}

// Run executes one full scrape pass and persists its report. The returned
// error is non-nil only when the report itself could not be saved; scrape
// failures live inside the report.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunReport, error) {
	report := &models.RunReport{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
		Sites:     make([]models.SiteReport, len(o.sites)),
	}
	log.Printf("orchestrator: run %s starting across %d sites", report.ID, len(o.sites))

	var wg sync.WaitGroup
	for i, st := range o.sites {
		wg.Add(1)
		go func(i int, st site) {
			defer wg.Done()
			report.Sites[i] = o.runSite(ctx, st)
		}(i, st)
	}
	wg.Wait()

	report.Finish(time.Now().UTC())
	log.Printf("orchestrator: run %s %s: %d discovered, %d new, %d updated, %d unchanged, %d skipped",
		report.ID, report.Status, report.Counters.Discovered,
		report.Counters.New, report.Counters.Updated, report.Counters.Unchanged,
		report.Counters.Skipped)

	if err := o.store.SaveRun(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) runSite(ctx context.Context, st site) models.SiteReport {
	sr := models.SiteReport{
		Site:      st.cfg.ID,
		Status:    models.RunStatusCompleted,
		StartedAt: time.Now().UTC(),
	}

	urls, status, discErrs := o.discover(ctx, st)
	sr.Counters.Discovered = len(urls)
	sr.Errors = append(sr.Errors, discErrs...)
	sr.Status = status

	if status != models.RunStatusFailed {
		o.processListings(ctx, st, urls, &sr)
	}

	now := time.Now().UTC()
	sr.FinishedAt = &now
	log.Printf("orchestrator: site %s %s: %d discovered, %d extracted, %d errors",
		st.cfg.ID, sr.Status, sr.Counters.Discovered, sr.Counters.Extracted, len(sr.Errors))
	return sr
}

// discover walks the site's index pages until the adapter reports
// exhaustion, the page ceiling trips, or discovery itself fails. Duplicate
// URLs across sections are collapsed.
func (o *Orchestrator) discover(ctx context.Context, st site) ([]string, models.RunStatus, []string) {
	var urls []string
	var errs []string
	seen := make(map[string]bool)
	token := ""

	for steps := 0; ; {
		if err := ctx.Err(); err != nil {
			errs = append(errs, "site "+st.cfg.ID+": discovery canceled: "+err.Error())
			return urls, models.RunStatusPartial, errs
		}

		page, err := st.adapter.DiscoverPage(ctx, token)
		if err != nil {
			errs = append(errs, "site "+st.cfg.ID+": discovery: "+err.Error())
			if len(urls) > 0 {
				return urls, models.RunStatusPartial, errs
			}
			return nil, models.RunStatusFailed, errs
		}

		for _, u := range page.URLs {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}

		if page.Exhausted {
			return urls, models.RunStatusCompleted, errs
		}

		steps++
		if steps >= st.cfg.PageCeiling {
			err := &AdapterExhaustionError{Site: st.cfg.ID, Steps: steps}
			log.Printf("orchestrator: %v", err)
			errs = append(errs, err.Error())
			return urls, models.RunStatusPartial, errs
		}
		token = page.Next

		o.rateLimit(ctx, st.cfg)
	}
}

// processListings fetches, extracts and upserts every discovered listing
// through a bounded worker pool. Failures are counted and recorded per URL.
func (o *Orchestrator) processListings(ctx context.Context, st site, urls []string, sr *models.SiteReport) {
	// An unbuffered semaphore would deadlock the submit loop.
	workers := o.cfg.Scraper.FetchConcurrency
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, pageURL := range urls {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(pageURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			counters, errMsg := o.processOne(ctx, st, pageURL)

			mu.Lock()
			sr.Counters.Add(counters)
			if errMsg != "" {
				sr.Errors = append(sr.Errors, errMsg)
			}
			mu.Unlock()
		}(pageURL)

		o.rateLimit(ctx, st.cfg)
	}
	wg.Wait()
}

func (o *Orchestrator) processOne(ctx context.Context, st site, pageURL string) (models.Counters, string) {
	var c models.Counters

	res, err := st.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		c.Skipped++
		return c, "fetch " + pageURL + ": " + err.Error()
	}
	if res.FromCache {
		c.CacheHits++
	} else {
		c.Fetched++
	}

	raw, err := st.adapter.ExtractListing(res.Body, pageURL)
	if err != nil {
		c.Skipped++
		return c, err.Error()
	}
	c.Extracted++
	raw.RawHTMLFile = res.SnapshotPath

	outcome, err := o.listings.Process(ctx, raw)
	if err != nil {
		var nerr *normalize.Error
		if errors.As(err, &nerr) {
			c.NormalizationFailed++
		} else {
			c.Skipped++
		}
		return c, err.Error()
	}

	switch outcome {
	case services.OutcomeInserted:
		c.New++
	case services.OutcomeUpdated:
		c.Updated++
	case services.OutcomeUnchanged:
		c.Unchanged++
	}
	return c, ""
}

func (o *Orchestrator) rateLimit(ctx context.Context, sc *config.SiteConfig) {
	if sc.RateLimitMS <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(sc.RateLimitMS) * time.Millisecond):
	case <-ctx.Done():
	}
}
