// Package api exposes the stored listings and scrape runs over a read-only
// JSON interface.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"homefinder/models"
	"homefinder/storage"
)

type Server struct {
	store storage.Store
	http  *http.Server
}

func NewServer(addr string, store storage.Store) *Server {
	s := &Server{store: store}

	r := mux.NewRouter()
	r.Use(logMiddleware)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/listings", s.handleListings).Methods(http.MethodGet)
	r.HandleFunc("/api/listings/{id}", s.handleListing).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", s.handleRuns).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("api: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listings, err := s.store.SearchListings(r.Context(), filter)
	if err != nil {
		log.Printf("api: search listings: %v", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(listings),
		"listings": listings,
	})
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	listing, err := s.store.GetListingByID(r.Context(), id)
	if err != nil {
		log.Printf("api: get listing %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if listing == nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		log.Printf("api: list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(runs),
		"runs":  runs,
	})
}

func filterFromQuery(r *http.Request) (storage.ListingFilter, error) {
	q := r.URL.Query()
	f := storage.ListingFilter{
		Site:        q.Get("site"),
		City:        q.Get("city"),
		EnergyClass: q.Get("energy_class"),
		Text:        q.Get("q"),
		Limit:       100,
	}

	if v := q.Get("contract"); v != "" {
		if v != "sell" && v != "rent" {
			return f, errInvalidParam("contract")
		}
		f.Contract = models.ContractType(v)
	}
	if v := q.Get("min_price"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errInvalidParam("min_price")
		}
		f.MinPrice = &p
	}
	if v := q.Get("max_price"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errInvalidParam("max_price")
		}
		f.MaxPrice = &p
	}
	if v := q.Get("min_sqm"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errInvalidParam("min_sqm")
		}
		f.MinSquareMeters = &p
	}
	if v := q.Get("min_rooms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errInvalidParam("min_rooms")
		}
		f.MinRooms = &n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return f, errInvalidParam("limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errInvalidParam("offset")
		}
		f.Offset = n
	}

	return f, nil
}

type paramError string

func errInvalidParam(name string) error { return paramError(name) }

func (p paramError) Error() string { return "invalid parameter: " + string(p) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("api: %s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
