package api

import (
	"time"

	"github.com/trusttag/trusttag/internal/store"
)

// StatusResponse is the body for POST /api/v1/readings and /api/v1/reset.
type StatusResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

// EventResponse is one history entry on a package.
type EventResponse struct {
	Time  string `json:"time"` // RFC3339
	Res   int    `json:"res"`
	Event string `json:"event"`
}

// PackageResponse is one package in GET /api/v1/packages and in hub messages.
type PackageResponse struct {
	ID         string          `json:"id"`
	OriginRes  int             `json:"origin_res"`
	CurrentRes int             `json:"current_res"`
	Status     string          `json:"status"`
	LastSeen   string          `json:"last_seen"` // RFC3339
	Logs       []EventResponse `json:"logs"`
}

// PackagesResponse is the payload for GET /api/v1/packages. Counts cover the
// returned page, matching what a dashboard renders.
type PackagesResponse struct {
	Total         int               `json:"total"`
	Secure        int               `json:"secure"`
	Tampered      int               `json:"tampered"`
	IntegrityRate float64           `json:"integrity_rate"` // percent; 100 when empty
	Packages      []PackageResponse `json:"packages"`
	GeneratedAt   string            `json:"generated_at"` // RFC3339
}

// SnapshotResponse is the bootstrap payload sent to WebSocket viewers.
type SnapshotResponse struct {
	Packages    []PackageResponse `json:"packages"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"` // "ok" | "degraded"
	StoreOnline   bool   `json:"store_online"`
	CacheLive     bool   `json:"cache_live"`
	Packages      int    `json:"packages"`
	Viewers       int    `json:"viewers"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// readingRequest is the sensor payload. Res stays untyped: devices send both
// numbers and numeric strings, and coercion happens in the ingestion service.
type readingRequest struct {
	ID  string      `json:"id"`
	Res interface{} `json:"res"`
}

// ToPackageResponse maps a store record to its JSON representation, newest
// history entries last (chronological, as stored).
func ToPackageResponse(p *store.Package) PackageResponse {
	logs := make([]EventResponse, 0, len(p.Logs))
	for _, e := range p.Logs {
		logs = append(logs, EventResponse{
			Time:  e.Time.UTC().Format(time.RFC3339),
			Res:   e.Res,
			Event: e.Label,
		})
	}
	return PackageResponse{
		ID:         p.ID,
		OriginRes:  p.OriginRes,
		CurrentRes: p.CurrentRes,
		Status:     string(p.Status),
		LastSeen:   p.LastSeen.UTC().Format(time.RFC3339),
		Logs:       logs,
	}
}

// BuildSnapshot maps a page of packages to the viewer bootstrap payload.
func BuildSnapshot(pkgs []*store.Package) SnapshotResponse {
	out := make([]PackageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, ToPackageResponse(p))
	}
	return SnapshotResponse{
		Packages:    out,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
