// Package scheduler triggers periodic scrape passes, by cron expression
// when one is configured and by fixed interval otherwise.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"homefinder/config"
)

const defaultInterval = 6 * time.Hour

// RunFunc is one scrape pass. The scheduler never overlaps invocations.
type RunFunc func(ctx context.Context)

type Scheduler struct {
	cfg  config.SchedulerConfig
	run  RunFunc
	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

func New(cfg config.SchedulerConfig, run RunFunc) *Scheduler {
	return &Scheduler{cfg: cfg, run: run}
}

// Start blocks until ctx is canceled, firing the run function on schedule.
// An immediate first pass fires on startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.fire(ctx)

	if s.cfg.Cron != "" {
		return s.startCron(ctx)
	}
	return s.startTicker(ctx)
}

func (s *Scheduler) startCron(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.fire(ctx) })
	if err != nil {
		return err
	}
	log.Printf("scheduler: cron schedule %q", s.cfg.Cron)
	s.cron.Start()

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return nil
}

func (s *Scheduler) startTicker(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	log.Printf("scheduler: interval %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fire(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// fire runs one pass unless the previous one is still going.
func (s *Scheduler) fire(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("scheduler: previous pass still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.run(ctx)
}
