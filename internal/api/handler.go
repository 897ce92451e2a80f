package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/trusttag/trusttag/internal/alerts"
	"github.com/trusttag/trusttag/internal/ingest"
	"github.com/trusttag/trusttag/internal/store"
	"github.com/trusttag/trusttag/internal/verdict"
)

const (
	// defaultPageSize matches what the dashboard renders per refresh.
	defaultPageSize = 15
	maxPageSize     = 100
)

// Stats wires process-level observations into the handler without coupling
// the API to the hub, cache, or metrics packages.
type Stats struct {
	// Viewers returns the number of connected WebSocket viewers.
	Viewers func() int

	// CacheHealthy reports whether the live cache is consuming the change stream.
	CacheHealthy func() bool

	// ObserveIngest is called once per reading with the resulting status.
	ObserveIngest func(verdict.Status)
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store  *store.Store // nil when the store failed to open at boot
	ingest *ingest.Service
	alerts *alerts.Engine
	stats  Stats
	mux    *http.ServeMux
	start  time.Time
}

// New creates a Handler and registers all routes. st may be nil (store
// offline); eng may be nil (alerting disabled); zero-value stats fields are
// tolerated.
func New(st *store.Store, ing *ingest.Service, eng *alerts.Engine, stats Stats) http.Handler {
	h := &Handler{
		store:  st,
		ingest: ing,
		alerts: eng,
		stats:  stats,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}

	h.mux.HandleFunc("/api/v1/readings", h.readings)
	h.mux.HandleFunc("/api/v1/reset", h.reset)
	h.mux.HandleFunc("/api/v1/packages", h.packages)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// readings handles POST /api/v1/readings — the sensor ingestion endpoint.
// Every outcome, including internal failures, is HTTP 200 with the status in
// the body.
func (h *Handler) readings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("api: reading without usable payload", "err", err)
		h.observe(verdict.StatusNoPayload)
		jsonResp(w, http.StatusOK, StatusResponse{Status: string(verdict.StatusNoPayload)})
		return
	}
	if req.ID == "" && req.Res == nil {
		// `{}` and `null` decode cleanly but carry nothing to ingest. The
		// UNKNOWN/zero substitutions apply to payloads with content, not to
		// empty ones — an empty payload must leave the store untouched.
		slog.Warn("api: reading with empty payload")
		h.observe(verdict.StatusNoPayload)
		jsonResp(w, http.StatusOK, StatusResponse{Status: string(verdict.StatusNoPayload)})
		return
	}

	status, ingErr := h.ingest.Ingest(r.Context(), req.ID, req.Res)
	h.observe(status)

	resp := StatusResponse{Status: string(status)}
	if ingErr != nil {
		resp.Msg = ingErr.Error()
	}
	jsonResp(w, http.StatusOK, resp)
}

// reset handles POST /api/v1/reset — clears all package state. Idempotent.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := h.ingest.Reset(r.Context()); err != nil {
		slog.Error("api: reset failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "reset failed")
		return
	}
	jsonResp(w, http.StatusOK, StatusResponse{Status: "OK"})
}

// packages handles GET /api/v1/packages?limit=N — newest-first page plus
// aggregate counts over that page.
func (h *Handler) packages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	var page []*store.Package
	if h.store != nil {
		var err error
		page, err = h.store.ListRecent(limit)
		if err != nil {
			slog.Error("api: list packages failed", "err", err)
			jsonErr(w, http.StatusInternalServerError, "store read failed")
			return
		}
	}

	resp := PackagesResponse{
		Packages:    make([]PackageResponse, 0, len(page)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, p := range page {
		resp.Packages = append(resp.Packages, ToPackageResponse(p))
		// REGISTERED packages count toward the total but toward neither
		// bucket — no verdict has been computed against their baseline yet.
		switch p.Status {
		case verdict.StatusTampered:
			resp.Tampered++
		case verdict.StatusSecure:
			resp.Secure++
		}
	}
	resp.Total = len(page)
	if resp.Total > 0 {
		resp.IntegrityRate = float64(resp.Secure) / float64(resp.Total) * 100
	} else {
		// Empty system reads as fully intact by convention.
		resp.IntegrityRate = 100
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAlerts handles GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// health handles GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{
		Status:        "ok",
		StoreOnline:   h.store != nil,
		UptimeSeconds: int64(time.Since(h.start).Seconds()),
	}
	if h.stats.CacheHealthy != nil {
		resp.CacheLive = h.stats.CacheHealthy()
	}
	if h.stats.Viewers != nil {
		resp.Viewers = h.stats.Viewers()
	}
	if h.store != nil {
		if n, err := h.store.Count(); err == nil {
			resp.Packages = n
		}
	}
	if !resp.StoreOnline || !resp.CacheLive {
		resp.Status = "degraded"
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// observe records a reading outcome, including the ones that never reach the
// ingestion service.
func (h *Handler) observe(st verdict.Status) {
	if h.stats.ObserveIngest != nil {
		h.stats.ObserveIngest(st)
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
