package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trusttag/trusttag/internal/cache"
	"github.com/trusttag/trusttag/internal/store"
	wsHub "github.com/trusttag/trusttag/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// startHub wires store → cache → hub behind a test HTTP server and waits for
// the cache to finish its bootstrap sync.
func startHub(t *testing.T) (wsURL string, st *store.Store, hub *wsHub.Hub) {
	t.Helper()

	st, err := store.Open(t.TempDir(), 50)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := cache.New(st, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for !c.Healthy() {
		if time.Now().After(deadline) {
			t.Fatal("cache never became healthy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub = wsHub.New(c)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), st, hub
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func put(t *testing.T, st *store.Store, id string, res int) {
	t.Helper()
	if err := st.Put(store.NewPackage(id, res, time.Now().UTC())); err != nil {
		t.Fatalf("Put %s: %v", id, err)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesBootstrapSnapshot(t *testing.T) {
	wsURL, st, _ := startHub(t)

	put(t, st, "PACK_001", 10500)
	put(t, st, "PACK_002", 400)
	// Let the cache apply both changes before connecting.
	time.Sleep(50 * time.Millisecond)

	conn := dial(t, wsURL)
	m := readMessage(t, conn)

	if m["event"] != "snapshot" {
		t.Fatalf("first message event: got %v, want snapshot", m["event"])
	}
	data, ok := m["data"].(map[string]interface{})
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	pkgs, ok := data["packages"].([]interface{})
	if !ok || len(pkgs) != 2 {
		t.Errorf("packages: got %v, want 2 entries", data["packages"])
	}
	if data["generated_at"] == nil || data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
}

func TestHub_StreamsUpdatesAfterSnapshot(t *testing.T) {
	wsURL, st, _ := startHub(t)

	conn := dial(t, wsURL)
	if m := readMessage(t, conn); m["event"] != "snapshot" {
		t.Fatalf("first message: got %v, want snapshot", m["event"])
	}

	put(t, st, "PACK_001", 10500)

	m := readMessage(t, conn)
	if m["event"] != "update" {
		t.Fatalf("second message event: got %v, want update", m["event"])
	}
	data := m["data"].(map[string]interface{})
	if data["id"] != "PACK_001" {
		t.Errorf("update id: got %v, want PACK_001", data["id"])
	}
	if data["status"] != "REGISTERED" {
		t.Errorf("update status: got %v, want REGISTERED", data["status"])
	}
}

func TestHub_ResetEvent(t *testing.T) {
	wsURL, st, _ := startHub(t)

	conn := dial(t, wsURL)
	readMessage(t, conn) // snapshot

	put(t, st, "PACK_001", 10500)
	readMessage(t, conn) // update

	if err := st.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if m := readMessage(t, conn); m["event"] != "reset" {
		t.Errorf("got %v, want reset", m["event"])
	}
}

func TestHub_CountTracksConnections(t *testing.T) {
	wsURL, _, hub := startHub(t)

	if hub.Count() != 0 {
		t.Fatalf("Count: got %d, want 0", hub.Count())
	}

	conn := dial(t, wsURL)
	readMessage(t, conn) // ensure the connection is established

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 1 {
		t.Errorf("Count after connect: got %d, want 1", hub.Count())
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 0 {
		t.Errorf("Count after close: got %d, want 0", hub.Count())
	}
}

func TestHub_ReconnectGetsFreshSnapshot(t *testing.T) {
	wsURL, st, _ := startHub(t)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	conn.Close()

	put(t, st, "PACK_001", 10500)
	time.Sleep(50 * time.Millisecond)

	// The write that happened while disconnected shows up in the snapshot,
	// not as a replayed delta.
	conn2 := dial(t, wsURL)
	m := readMessage(t, conn2)
	if m["event"] != "snapshot" {
		t.Fatalf("got %v, want snapshot", m["event"])
	}
	data := m["data"].(map[string]interface{})
	pkgs := data["packages"].([]interface{})
	if len(pkgs) != 1 {
		t.Errorf("snapshot packages: got %d, want 1", len(pkgs))
	}
}
