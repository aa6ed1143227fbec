package scraper

import "fmt"

// ConfigurationError is the only error class fatal to a whole run.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// AdapterExhaustionError means discovery hit the safety page ceiling before
// the site reported an explicit end of listings. The site's portion of the
// run is kept as partial; other sites proceed.
type AdapterExhaustionError struct {
	Site  string
	Steps int
}

func (e *AdapterExhaustionError) Error() string {
	return fmt.Sprintf("site %s: discovery ceiling of %d steps reached without exhaustion signal", e.Site, e.Steps)
}

// ExtractError is an isolated per-listing extraction failure.
type ExtractError struct {
	URL string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }
