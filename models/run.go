package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Counters aggregates the per-listing outcomes of one scrape pass.
type Counters struct {
	Discovered          int `json:"discovered"`
	Fetched             int `json:"fetched"`
	CacheHits           int `json:"cache_hits"`
	Extracted           int `json:"extracted"`
	NormalizationFailed int `json:"normalization_failed"`
	Skipped             int `json:"skipped"`
	New                 int `json:"new"`
	Updated             int `json:"updated"`
	Unchanged           int `json:"unchanged"`
}

func (c *Counters) Add(o Counters) {
	c.Discovered += o.Discovered
	c.Fetched += o.Fetched
	c.CacheHits += o.CacheHits
	c.Extracted += o.Extracted
	c.NormalizationFailed += o.NormalizationFailed
	c.Skipped += o.Skipped
	c.New += o.New
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
}

// SiteReport is one site's portion of a run.
type SiteReport struct {
	Site       string     `json:"site"`
	Status     RunStatus  `json:"status"`
	Counters   Counters   `json:"counters"`
	Errors     []string   `json:"errors,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunReport describes one orchestrator execution across all configured sites.
type RunReport struct {
	ID         uuid.UUID    `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Status     RunStatus    `json:"status"`
	Counters   Counters     `json:"counters"`
	Sites      []SiteReport `json:"sites"`
	Errors     []string     `json:"errors,omitempty"`
}

// Finish rolls the site reports up into the run-level status and counters.
func (r *RunReport) Finish(at time.Time) {
	r.FinishedAt = &at
	r.Counters = Counters{}
	r.Errors = nil

	failed, completed := 0, 0
	for _, site := range r.Sites {
		r.Counters.Add(site.Counters)
		r.Errors = append(r.Errors, site.Errors...)
		switch site.Status {
		case RunStatusFailed:
			failed++
		case RunStatusCompleted:
			completed++
		}
	}

	switch {
	case len(r.Sites) == 0 || failed == len(r.Sites):
		r.Status = RunStatusFailed
	case failed > 0 || completed < len(r.Sites):
		r.Status = RunStatusPartial
	default:
		r.Status = RunStatusCompleted
	}
}
