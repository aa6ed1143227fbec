package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const userAgent = "Mozilla/5.0 (compatible; HomeFinderBot/1.0)"

// ErrNotFound signals an HTTP 404 from the target site. Paginated adapters
// rely on it as the end-of-listing signal, so it is never retried.
var ErrNotFound = errors.New("page not found")

// FetchError wraps a network or server failure that survived the retry
// budget. It is recorded as a skipped URL, never fatal to a run.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Result is one fetched document, either fresh from the network or served
// from the on-disk snapshot cache.
type Result struct {
	Body         []byte
	FromCache    bool
	SnapshotPath string
}

// Fetcher is the content-store contract the scrape pipeline consumes.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Result, error)
	HasFresh(pageURL string) bool
}

// Renderer produces the DOM of a page that only materializes under a
// JS-capable browser.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// Store is an on-disk HTML snapshot cache keyed by URL. A snapshot younger
// than the TTL is considered fresh and served without re-fetching.
type Store struct {
	dir        string
	ttl        time.Duration
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	renderer   Renderer
}

func New(dir string, ttl time.Duration, client *http.Client, maxRetries int, baseDelay time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Store{
		dir:        dir,
		ttl:        ttl,
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}, nil
}

// SetRenderer attaches a browser-backed renderer for render-required sites.
func (s *Store) SetRenderer(r Renderer) {
	s.renderer = r
}

// Bind returns a Fetcher view of the store for one site. Rendered sites go
// through the browser renderer; everything shares the same snapshot cache.
func (s *Store) Bind(rendered bool) Fetcher {
	return &boundFetcher{store: s, rendered: rendered && s.renderer != nil}
}

type boundFetcher struct {
	store    *Store
	rendered bool
}

func (b *boundFetcher) Fetch(ctx context.Context, pageURL string) (Result, error) {
	return b.store.fetch(ctx, pageURL, b.rendered)
}

func (b *boundFetcher) HasFresh(pageURL string) bool {
	return b.store.HasFresh(pageURL)
}

func (s *Store) Fetch(ctx context.Context, pageURL string) (Result, error) {
	return s.fetch(ctx, pageURL, false)
}

func (s *Store) fetch(ctx context.Context, pageURL string, rendered bool) (Result, error) {
	path := s.snapshotPath(pageURL)

	if s.isFresh(path) {
		body, err := os.ReadFile(path)
		if err == nil {
			return Result{Body: body, FromCache: true, SnapshotPath: path}, nil
		}
		log.Printf("contentstore: unreadable snapshot %s: %v", path, err)
	}

	var body []byte
	var err error
	if rendered {
		body, err = s.renderer.Render(ctx, pageURL)
	} else {
		body, err = s.download(ctx, pageURL)
	}
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
		if werr := os.WriteFile(path, body, 0644); werr != nil {
			log.Printf("contentstore: cannot write snapshot %s: %v", path, werr)
		}
	}

	return Result{Body: body, SnapshotPath: path}, nil
}

// HasFresh reports whether a snapshot younger than the TTL exists.
func (s *Store) HasFresh(pageURL string) bool {
	return s.isFresh(s.snapshotPath(pageURL))
}

func (s *Store) isFresh(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < s.ttl
}

// download fetches with bounded exponential backoff. 404 is an exhaustion
// signal and returns immediately; other 4xx are not retried either, since
// repeating the same bad request cannot change the answer.
func (s *Store) download(ctx context.Context, pageURL string) ([]byte, error) {
	delay := s.baseDelay
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		body, retryable, err := s.downloadOnce(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrNotFound) || !retryable {
			return nil, err
		}
		lastErr = err

		if attempt < s.maxRetries {
			log.Printf("contentstore: fetch %s attempt %d/%d failed: %v, retrying in %s",
				pageURL, attempt, s.maxRetries, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}

	return nil, &FetchError{URL: pageURL, Attempts: s.maxRetries, Err: lastErr}
}

func (s *Store) downloadOnce(ctx context.Context, pageURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%s: %w", pageURL, ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// Prune removes snapshots older than the retention window and empty site
// directories left behind. Returns the number of files removed.
func (s *Store) Prune(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	removed := 0

	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if rerr := os.Remove(path); rerr == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

func (s *Store) snapshotPath(pageURL string) string {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	sum := sha256.Sum256([]byte(pageURL))
	return filepath.Join(s.dir, host, hex.EncodeToString(sum[:16])+".html")
}
