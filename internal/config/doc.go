// Package config loads the trusttag-server configuration from trusttag.yaml.
//
// Config fields:
//   - Server.HTTPPort      — port for the REST API, WebSocket hub and /metrics (default 8080)
//   - Store.Path           — Badger database directory (default ./data/trusttag)
//   - Store.HistoryLimit   — retained history events per package (default 50)
//   - Store.LockTimeout    — per-package lock acquire bound (default 2s)
//   - Verdict.HardLimit    — open-circuit threshold in ohms (default 60000)
//   - Verdict.DriftLimit   — max drift from baseline in ohms (default 3000)
//   - Cache.ViewerBuffer   — per-viewer update channel depth (default 16)
//   - Alerts               — rule definitions and webhook delivery targets
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, apply) debounces file rewrites and delivers the
// hot-applicable sections as a Reload, so verdict thresholds and alert
// rules can be tuned without a restart.
package config
