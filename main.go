package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homefinder/api"
	"homefinder/config"
	"homefinder/contentstore"
	"homefinder/httputil"
	"homefinder/logging"
	"homefinder/scheduler"
	"homefinder/scraper"
	"homefinder/storage"
	"homefinder/workers"
)

func main() {
	scrapeOnce := flag.Bool("scrape", false, "run one scrape pass and exit")
	logPath := flag.String("log", "homefinder.log", "log file path")
	flag.Parse()

	rw, err := logging.Setup(*logPath)
	if err != nil {
		log.Fatalf("logging setup: %v", err)
	}
	defer rw.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	clients := httputil.NewClients(cfg.Scraper.FetchTimeout)
	content, err := contentstore.New(cfg.Cache.Dir, cfg.Cache.TTL, clients.Scraping,
		cfg.Scraper.MaxRetries, cfg.Scraper.RetryBaseDelay)
	if err != nil {
		log.Fatalf("content store: %v", err)
	}

	if anySiteRendered(cfg) {
		renderer := contentstore.NewBrowserRenderer()
		defer renderer.Close()
		content.SetRenderer(renderer)
	}

	orch, err := scraper.NewOrchestrator(ctx, cfg, store, content)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}

	if *scrapeOnce {
		report, err := orch.Run(ctx)
		if err != nil {
			log.Fatalf("scrape: %v", err)
		}
		log.Printf("scrape finished: %s (%s)", report.ID, report.Status)
		return
	}

	sched := scheduler.New(cfg.Scheduler, func(ctx context.Context) {
		if _, err := orch.Run(ctx); err != nil {
			log.Printf("scheduled run: %v", err)
		}
	})
	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Printf("scheduler: %v", err)
		}
	}()

	retention := workers.NewRetentionWorker(content, cfg.Cache.Retention)
	go retention.Start(ctx)

	server := api.NewServer(cfg.API.Addr, store)
	go func() {
		if err := server.Start(); err != nil {
			log.Printf("api: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Backend == "postgres" {
		return storage.NewPostgresStore(ctx, cfg.Storage.PostgresURL)
	}
	return storage.NewSQLiteStore(cfg.Storage.SQLitePath)
}

func anySiteRendered(cfg *config.Config) bool {
	for _, site := range cfg.Sites {
		if site.Render {
			return true
		}
	}
	return false
}
