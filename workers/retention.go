// Package workers holds the background maintenance loops that run beside
// the scrape pipeline.
package workers

import (
	"context"
	"log"
	"time"
)

// Pruner is the slice of the snapshot cache the retention worker needs.
type Pruner interface {
	Prune(retention time.Duration) (int, error)
}

// RetentionWorker deletes cached page snapshots older than the retention
// window so the cache directory does not grow without bound.
type RetentionWorker struct {
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
}

func NewRetentionWorker(pruner Pruner, retention time.Duration) *RetentionWorker {
	return &RetentionWorker{
		pruner:    pruner,
		retention: retention,
		interval:  12 * time.Hour,
	}
}

// Start blocks until ctx is canceled. The first sweep runs immediately.
func (w *RetentionWorker) Start(ctx context.Context) {
	log.Printf("retention: pruning snapshots older than %s every %s", w.retention, w.interval)
	w.sweep()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (w *RetentionWorker) sweep() {
	removed, err := w.pruner.Prune(w.retention)
	if err != nil {
		log.Printf("retention: prune: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("retention: removed %d stale snapshots", removed)
	}
}
