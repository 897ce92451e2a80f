// Package ws implements the WebSocket fan-out for trusttag-server.
//
// Each connection gets its own cache subscription: a full bootstrap snapshot
// on connect, then one message per committed package write, in commit order
// per package. A viewer that cannot keep up is evicted and must reconnect
// for a fresh snapshot — missed deltas are never replayed.
//
// Message formats sent to clients:
//
//	{ "event": "snapshot", "data": { /* same schema as GET /api/v1/packages snapshot */ } }
//	{ "event": "update",   "data": { /* one PackageResponse */ } }
//	{ "event": "reset" }
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
