package ws

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trusttag/trusttag/internal/api"
	"github.com/trusttag/trusttag/internal/cache"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Hub serves WebSocket viewers from the live cache. Viewer isolation (bounded
// buffers, slow-consumer eviction) lives in the cache subscription; the hub
// only moves messages onto the wire.
type Hub struct {
	cache   *cache.Cache
	clients atomic.Int64
}

// New creates a Hub reading from c.
func New(c *cache.Cache) *Hub {
	return &Hub{cache: c}
}

// Count returns the number of currently connected viewers.
func (h *Hub) Count() int {
	return int(h.clients.Load())
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the viewer.
// It sends the bootstrap snapshot immediately, then streams per-package
// updates until the connection closes or the viewer is evicted.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	h.clients.Add(1)
	defer h.clients.Add(-1)

	sub := h.cache.Subscribe()
	defer h.cache.Unsubscribe(sub)

	go h.writePump(conn, sub)
	readPump(conn) // blocks until the connection closes
}

// writePump sends the bootstrap snapshot, then forwards subscription updates
// and periodic ping frames. Runs in its own goroutine per viewer; exits when
// the subscription channel closes (unsubscribe or eviction) or a write fails.
func (h *Hub) writePump(conn *websocket.Conn, sub *cache.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	boot, err := json.Marshal(Message{Event: "snapshot", Data: api.BuildSnapshot(sub.Snapshot)})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, boot); err != nil {
		return
	}

	for {
		select {
		case up, ok := <-sub.Updates:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Evicted or unsubscribed — tell the viewer to reconnect for
				// a fresh snapshot.
				conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}

			var msg Message
			if up.Reset {
				msg = Message{Event: "reset"}
			} else {
				msg = Message{Event: "update", Data: api.ToPackageResponse(up.Pkg)}
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
