package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trusttag/trusttag/internal/api"
	"github.com/trusttag/trusttag/internal/ingest"
	"github.com/trusttag/trusttag/internal/store"
	"github.com/trusttag/trusttag/internal/verdict"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), 50)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	go func() {
		for range st.Changes() {
		}
	}()

	ing := ingest.New(st, nil, verdict.DefaultLimits(), time.Second)
	srv := httptest.NewServer(api.New(st, ing, nil, api.Stats{}))
	t.Cleanup(srv.Close)
	return srv, st
}

func postReading(t *testing.T, srv *httptest.Server, body string) api.StatusResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/readings", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST readings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST readings: HTTP %d, want 200 for every outcome", resp.StatusCode)
	}
	var out api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func getPackages(t *testing.T, srv *httptest.Server, query string) api.PackagesResponse {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/packages" + query)
	if err != nil {
		t.Fatalf("GET packages: %v", err)
	}
	defer resp.Body.Close()
	var out api.PackagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestReadings_RegisterVerifyTamper(t *testing.T) {
	srv, st := newTestServer(t)

	// First reading registers, whatever its magnitude.
	if got := postReading(t, srv, `{"id":"PACK_001","res":10500}`); got.Status != "REGISTERED" {
		t.Errorf("first reading: got %q, want REGISTERED", got.Status)
	}
	p, ok, _ := st.Get("PACK_001")
	if !ok || p.OriginRes != 10500 || p.CurrentRes != 10500 {
		t.Fatalf("stored record: got %+v", p)
	}

	// Small drift stays secure.
	if got := postReading(t, srv, `{"id":"PACK_001","res":10800}`); got.Status != "SECURE" {
		t.Errorf("drift 300: got %q, want SECURE", got.Status)
	}

	// Large drift trips the verdict.
	if got := postReading(t, srv, `{"id":"PACK_001","res":14000}`); got.Status != "TAMPERED" {
		t.Errorf("drift 3500: got %q, want TAMPERED", got.Status)
	}
}

func TestReadings_HighFirstReadingRegisters(t *testing.T) {
	srv, st := newTestServer(t)

	if got := postReading(t, srv, `{"id":"PACK_002","res":61000}`); got.Status != "REGISTERED" {
		t.Errorf("got %q, want REGISTERED", got.Status)
	}
	p, _, _ := st.Get("PACK_002")
	if p.OriginRes != 61000 || p.CurrentRes != 61000 {
		t.Errorf("resistances: got %d/%d, want 61000/61000", p.OriginRes, p.CurrentRes)
	}
}

func TestReadings_EmptyBodyIsNoPayload(t *testing.T) {
	srv, st := newTestServer(t)
	postReading(t, srv, `{"id":"PACK_001","res":100}`)

	if got := postReading(t, srv, ""); got.Status != "NO_PAYLOAD" {
		t.Errorf("empty body: got %q, want NO_PAYLOAD", got.Status)
	}
	if got := postReading(t, srv, "{not json"); got.Status != "NO_PAYLOAD" {
		t.Errorf("invalid json: got %q, want NO_PAYLOAD", got.Status)
	}

	// No state mutation on rejected payloads.
	if n, _ := st.Count(); n != 1 {
		t.Errorf("Count: got %d, want 1 (unchanged)", n)
	}
}

func TestReadings_EmptyObjectIsNoPayload(t *testing.T) {
	srv, st := newTestServer(t)

	// Valid JSON with nothing to ingest must not create a phantom record.
	if got := postReading(t, srv, `{}`); got.Status != "NO_PAYLOAD" {
		t.Errorf("empty object: got %q, want NO_PAYLOAD", got.Status)
	}
	if got := postReading(t, srv, `null`); got.Status != "NO_PAYLOAD" {
		t.Errorf("null body: got %q, want NO_PAYLOAD", got.Status)
	}
	if n, _ := st.Count(); n != 0 {
		t.Errorf("Count: got %d, want 0", n)
	}
	if _, ok, _ := st.Get(ingest.UnknownID); ok {
		t.Errorf("unexpected %q record for an empty payload", ingest.UnknownID)
	}
}

func TestReadings_NoPayloadIsObserved(t *testing.T) {
	st, err := store.Open(t.TempDir(), 50)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	go func() {
		for range st.Changes() {
		}
	}()

	var mu sync.Mutex
	seen := map[verdict.Status]int{}
	ing := ingest.New(st, nil, verdict.DefaultLimits(), time.Second)
	srv := httptest.NewServer(api.New(st, ing, nil, api.Stats{
		ObserveIngest: func(s verdict.Status) {
			mu.Lock()
			seen[s]++
			mu.Unlock()
		},
	}))
	t.Cleanup(srv.Close)

	postReading(t, srv, `{}`)
	postReading(t, srv, "{not json")
	postReading(t, srv, `{"id":"PACK_001","res":100}`)

	mu.Lock()
	defer mu.Unlock()
	if seen[verdict.StatusNoPayload] != 2 {
		t.Errorf("NO_PAYLOAD observations: got %d, want 2", seen[verdict.StatusNoPayload])
	}
	if seen[verdict.StatusRegistered] != 1 {
		t.Errorf("REGISTERED observations: got %d, want 1", seen[verdict.StatusRegistered])
	}
}

func TestReadings_StringResAndExtraFields(t *testing.T) {
	srv, st := newTestServer(t)

	got := postReading(t, srv, `{"id":"PACK_003","res":"10500.7","fw":"v2","rssi":-71}`)
	if got.Status != "REGISTERED" {
		t.Errorf("got %q, want REGISTERED", got.Status)
	}
	p, _, _ := st.Get("PACK_003")
	if p.OriginRes != 10500 {
		t.Errorf("OriginRes: got %d, want 10500", p.OriginRes)
	}
}

func TestReadings_MissingIDUsesSentinel(t *testing.T) {
	srv, st := newTestServer(t)

	postReading(t, srv, `{"res":123}`)
	if _, ok, _ := st.Get(ingest.UnknownID); !ok {
		t.Errorf("expected reading attributed to %q", ingest.UnknownID)
	}
}

func TestPackages_PageAndCounts(t *testing.T) {
	srv, _ := newTestServer(t)

	postReading(t, srv, `{"id":"A","res":1000}`)
	postReading(t, srv, `{"id":"A","res":1100}`)  // SECURE
	postReading(t, srv, `{"id":"B","res":2000}`)
	postReading(t, srv, `{"id":"B","res":9000}`)  // TAMPERED
	postReading(t, srv, `{"id":"C","res":3000}`)  // REGISTERED only

	got := getPackages(t, srv, "")
	if got.Total != 3 {
		t.Fatalf("Total: got %d, want 3", got.Total)
	}
	if got.Secure != 1 || got.Tampered != 1 {
		t.Errorf("counts: got secure=%d tampered=%d, want 1/1", got.Secure, got.Tampered)
	}
	wantRate := 100.0 / 3.0
	if got.IntegrityRate < wantRate-0.01 || got.IntegrityRate > wantRate+0.01 {
		t.Errorf("IntegrityRate: got %.2f, want %.2f", got.IntegrityRate, wantRate)
	}

	// Most recent first.
	if got.Packages[0].ID != "C" {
		t.Errorf("order: got %q first, want C", got.Packages[0].ID)
	}

	limited := getPackages(t, srv, "?limit=2")
	if limited.Total != 2 || len(limited.Packages) != 2 {
		t.Errorf("limit=2: got total=%d len=%d", limited.Total, len(limited.Packages))
	}
}

func TestPackages_EmptyStore(t *testing.T) {
	srv, _ := newTestServer(t)

	got := getPackages(t, srv, "")
	if got.Total != 0 || got.Secure != 0 || got.Tampered != 0 {
		t.Errorf("counts: got %+v, want zeros", got)
	}
	if got.IntegrityRate != 100 {
		t.Errorf("IntegrityRate on empty store: got %.1f, want 100", got.IntegrityRate)
	}
	if got.Packages == nil || len(got.Packages) != 0 {
		t.Errorf("Packages: got %v, want empty list", got.Packages)
	}
}

func TestPackages_BadLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/packages?limit=zero")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("HTTP %d, want 400", resp.StatusCode)
	}
}

func TestReset_EmptiesSystem(t *testing.T) {
	srv, st := newTestServer(t)

	postReading(t, srv, `{"id":"A","res":1000}`)
	postReading(t, srv, `{"id":"B","res":2000}`)

	resp, err := http.Post(srv.URL+"/api/v1/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: HTTP %d, want 200", resp.StatusCode)
	}

	if n, _ := st.Count(); n != 0 {
		t.Errorf("Count after reset: got %d, want 0", n)
	}
	got := getPackages(t, srv, "")
	if got.Total != 0 || got.Secure != 0 || got.Tampered != 0 || got.IntegrityRate != 100 {
		t.Errorf("after reset: got %+v, want empty with 100%% integrity", got)
	}

	// Idempotent.
	resp2, err := http.Post(srv.URL+"/api/v1/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("second reset: HTTP %d, want 200", resp2.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	var got api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.StoreOnline {
		t.Error("StoreOnline: got false, want true")
	}
	// No cache wired in this fixture, so the process reports degraded.
	if got.Status != "degraded" {
		t.Errorf("Status: got %q, want degraded", got.Status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/readings")
	if err != nil {
		t.Fatalf("GET readings: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET readings: HTTP %d, want 405", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/v1/packages", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST packages: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST packages: HTTP %d, want 405", resp.StatusCode)
	}
}
