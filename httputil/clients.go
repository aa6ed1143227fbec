package httputil

import (
	"net/http"
	"time"
)

// Clients separates the client used against target agency sites from the
// one used for everything else, so scraping timeouts and redirect policy
// never leak into API traffic.
type Clients struct {
	Scraping *http.Client
	API      *http.Client
}

func NewClients(scrapeTimeout time.Duration) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4

	scraping := &http.Client{
		Timeout:   scrapeTimeout,
		Transport: transport,
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
