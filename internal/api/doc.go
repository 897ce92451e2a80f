// Package api implements the HTTP surface for trusttag-server.
//
// New(...) returns an http.Handler that serves:
//
//	POST /api/v1/readings  — sensor ingestion; always HTTP 200, outcome in body
//	POST /api/v1/reset     — clear all package state; idempotent
//	GET  /api/v1/packages  — most recent packages + aggregate counts
//	GET  /api/v1/alerts    — active and recently resolved tamper alerts
//	GET  /api/v1/health    — process liveness: store, cache, viewers, uptime
//
// The readings endpoint deliberately answers HTTP 200 for every outcome,
// including internal failures — resource-constrained sensor clients read the
// verdict from the body and never need transport-error handling. All other
// endpoints use conventional status codes.
//
// JSON types are defined in types.go and shared with the WebSocket hub.
package api
