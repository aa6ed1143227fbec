package contentstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := New(t.TempDir(), ttl, &http.Client{Timeout: 5 * time.Second}, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestFetchCachesSnapshot(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("<html>page</html>"))
	}))
	defer srv.Close()

	store := testStore(t, time.Hour)
	ctx := context.Background()

	first, err := store.Fetch(ctx, srv.URL+"/listing/1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if first.FromCache {
		t.Fatal("first fetch must hit the network")
	}
	if first.SnapshotPath == "" {
		t.Fatal("fetch must report its snapshot path")
	}
	if _, err := os.Stat(first.SnapshotPath); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	second, err := store.Fetch(ctx, srv.URL+"/listing/1")
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if !second.FromCache {
		t.Fatal("fresh snapshot must be served from cache")
	}
	if string(second.Body) != "<html>page</html>" {
		t.Fatalf("cached body = %q", second.Body)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, want 1", hits.Load())
	}
}

func TestFetchExpiredSnapshotRefetches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("v2"))
	}))
	defer srv.Close()

	store := testStore(t, 50*time.Millisecond)
	ctx := context.Background()

	if _, err := store.Fetch(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)

	res, err := store.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.FromCache {
		t.Fatal("expired snapshot must not be served")
	}
	if hits.Load() != 2 {
		t.Fatalf("server hit %d times, want 2", hits.Load())
	}
}

func TestFetch404IsErrNotFoundWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := testStore(t, time.Hour)
	_, err := store.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("404 retried %d times, must not be retried", hits.Load())
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	store := testStore(t, time.Hour)
	res, err := store.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch should recover within retry budget: %v", err)
	}
	if string(res.Body) != "recovered" {
		t.Fatalf("body = %q", res.Body)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hit %d times, want 3", hits.Load())
	}
}

func TestFetchGivesUpAfterRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := testStore(t, time.Hour)
	_, err := store.Fetch(context.Background(), srv.URL)

	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if ferr.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", ferr.Attempts)
	}
}

func TestPruneRemovesOldSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, time.Hour, &http.Client{}, 1, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	old := filepath.Join(dir, "site.test", "old.html")
	fresh := filepath.Join(dir, "site.test", "fresh.html")
	if err := os.MkdirAll(filepath.Dir(old), 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("stale snapshot survived prune")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh snapshot must survive prune")
	}
}
