package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/trusttag/trusttag/internal/verdict"
)

// debounceWindow coalesces the burst of filesystem events a single editor
// save produces (write, chmod, rename for atomic saves) into one reload.
const debounceWindow = 250 * time.Millisecond

// Reload carries the sections of a freshly parsed config that can be applied
// to a running server. Listener and store settings need a restart and are
// deliberately left out.
type Reload struct {
	Limits verdict.Limits
	Alerts AlertsConfig
}

// Watch monitors the config file at path and calls apply with the
// hot-applicable sections after each rewrite. A rewrite that fails to parse
// or validate is logged and skipped, leaving the previous config active.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, apply func(Reload)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	debounce := time.NewTimer(debounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Atomic saves replace the inode, which drops the watch; track
			// the path again before the reload fires.
			_ = watcher.Add(path)
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(debounceWindow)

		case <-debounce.C:
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			slog.Info("config: reloaded",
				"path", path,
				"hard_limit", cfg.Verdict.HardLimit,
				"drift_limit", cfg.Verdict.DriftLimit,
				"alert_rules", len(cfg.Alerts.Rules),
			)
			apply(Reload{Limits: cfg.Verdict.Limits(), Alerts: cfg.Alerts})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
