package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/controller"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/metrics"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

// StatsSource reports loop counters.
type StatsSource interface {
	Stats() controller.Stats
}

// IntentSource serves recently installed intents.
type IntentSource interface {
	RecentIntents(limit int) []controller.IntentEntry
}

// CacheSource reports response cache state; nil stats mean no cache.
type CacheSource interface {
	CacheStats() map[string]interface{}
}

// Deps are the read-only views the status API exposes. Audit, Cache and
// Metrics are optional.
type Deps struct {
	Stats    StatsSource
	Intents  IntentSource
	Audit    *rules.SQLiteAudit
	Cache    CacheSource
	Metrics  *metrics.Handler
	ModeInfo map[string]interface{}
	Provider string
}

type APIServer struct {
	listenAddr string
	deps       Deps
	started    time.Time
}

func NewAPIServer(listenAddr string, deps Deps) *APIServer {
	return &APIServer{
		listenAddr: listenAddr,
		deps:       deps,
		started:    time.Now(),
	}
}

// Router builds the HTTP routes.
func (s *APIServer) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stats", s.handleGetStats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rules", s.handleGetRules).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/cache/stats", s.handleGetCacheStats).Methods(http.MethodGet, http.MethodOptions)

	r.Handle("/metrics", s.deps.Metrics.HTTPHandler()).Methods(http.MethodGet)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *APIServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("[API] Status API listening on %s", s.listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"provider": s.deps.Provider,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *APIServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"status": "ok",
	}
	if s.deps.Stats != nil {
		stats["controller"] = s.deps.Stats.Stats()
	}
	if s.deps.ModeInfo != nil {
		stats["execution_mode"] = s.deps.ModeInfo
	}
	if s.deps.Audit != nil {
		audit, err := s.deps.Audit.Stats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		stats["audit"] = audit
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *APIServer) handleGetRules(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	if s.deps.Audit != nil {
		stored, err := s.deps.Audit.List(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if stored == nil {
			stored = []rules.StoredIntent{}
		}
		writeJSON(w, http.StatusOK, stored)
		return
	}

	entries := []controller.IntentEntry{}
	if s.deps.Intents != nil {
		entries = append(entries, s.deps.Intents.RecentIntents(limit)...)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *APIServer) handleGetCacheStats(w http.ResponseWriter, r *http.Request) {
	var stats map[string]interface{}
	if s.deps.Cache != nil {
		stats = s.deps.Cache.CacheStats()
	}
	if stats == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	stats["enabled"] = true
	writeJSON(w, http.StatusOK, stats)
}
