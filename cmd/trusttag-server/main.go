package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trusttag/trusttag/internal/alerts"
	"github.com/trusttag/trusttag/internal/api"
	"github.com/trusttag/trusttag/internal/cache"
	"github.com/trusttag/trusttag/internal/config"
	"github.com/trusttag/trusttag/internal/ingest"
	"github.com/trusttag/trusttag/internal/metrics"
	"github.com/trusttag/trusttag/internal/store"
	"github.com/trusttag/trusttag/internal/ws"
)

func main() {
	configPath := flag.String("config", "trusttag.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("trusttag-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"store_path", cfg.Store.Path,
		"hard_limit", cfg.Verdict.HardLimit,
		"drift_limit", cfg.Verdict.DriftLimit,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Durable package store. A failed open is not fatal: the server keeps
	// running and answers every reading with DB_OFFLINE until restarted.
	st, err := store.Open(cfg.Store.Path, cfg.Store.HistoryLimit)
	if err != nil {
		slog.Error("package store unavailable — serving in degraded mode", "err", err)
		st = nil
	}

	// Alerts engine — evaluates rules on every accepted reading.
	alertEngine := alerts.New(cfg.Alerts)

	ing := ingest.New(st, alertEngine, cfg.Verdict.Limits(), cfg.Store.LockTimeout)

	// Live cache — owns the store's change stream subscription.
	var liveCache *cache.Cache
	cacheHealthy := func() bool { return false }
	if st != nil {
		liveCache = cache.New(st, cfg.Cache.ViewerBuffer)
		go liveCache.Run(ctx)
		cacheHealthy = liveCache.Healthy
	}

	// WebSocket hub — pushes bootstrap snapshots and per-commit deltas.
	var hub *ws.Hub
	viewers := func() int { return 0 }
	if liveCache != nil {
		hub = ws.New(liveCache)
		viewers = hub.Count
	}

	reg := metrics.New(st, viewers)

	apiHandler := api.New(st, ing, alertEngine, api.Stats{
		Viewers:       viewers,
		CacheHealthy:  cacheHealthy,
		ObserveIngest: reg.ObserveIngest,
	})

	// Hot-reload verdict thresholds and alert rules on config writes.
	go func() {
		err := config.Watch(ctx, *configPath, func(r config.Reload) {
			ing.SetLimits(r.Limits)
			alertEngine.SetRules(r.Alerts)
		})
		if err != nil {
			slog.Error("config watch stopped", "err", err)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/api/v1/*", apiHandler)
	if hub != nil {
		r.Handle("/ws/stream", hub)
	}
	r.Handle("/metrics", reg)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: r,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("trusttag-server shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
	if st != nil {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", "err", err)
		}
	}
}
