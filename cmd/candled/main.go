package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fxcandles/config"
	"fxcandles/internal/agg"
	"fxcandles/internal/api"
	"fxcandles/internal/logger"
	"fxcandles/internal/markup"
	"fxcandles/internal/metrics"
	"fxcandles/internal/pipeline"
	"fxcandles/internal/queue"
	"fxcandles/internal/service"
	redisstore "fxcandles/internal/store/redis"
	sqlitestore "fxcandles/internal/store/sqlite"
	"fxcandles/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[candled] starting...")

	appLog := logger.Init("candled", slog.LevelInfo)

	// ---- Load config from env ----
	cfg := config.Load()
	pairs := cfg.ParsePairs()
	log.Printf("[candled] %d configured pairs, %d with contract size",
		len(pairs), len(cfg.SubscribedPairs()))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context tree for ordered shutdown ----
	// streamCtx stops first (no new ticks), workerCtx second (drain jobs).
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	streamCtx, streamCancel := context.WithCancel(rootCtx)
	defer streamCancel()
	workerCtx, workerCancel := context.WithCancel(rootCtx)
	defer workerCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Durable store ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[candled] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Cache (also carries the job streams) ----
	cache, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[candled] redis init failed: %v", err)
	}
	defer cache.Close()

	health.StartLivenessChecker(rootCtx, cache.Client(), store.DB(), 10*time.Second)

	// ---- Aggregator & pipeline ----
	aggregator := agg.New(cache, store)
	aggregator.OnUpsert = func() { prom.CandleUpserts.Inc() }

	hostname, _ := os.Hostname()
	jobs := queue.New(cache.Client(), "candled", hostname)
	if err := jobs.EnsureGroups(rootCtx); err != nil {
		log.Fatalf("[candled] queue group init failed: %v", err)
	}
	jobs.OnRetry = func(s string) { prom.JobRetries.WithLabelValues(s).Inc() }
	jobs.OnDrop = func(s string) { prom.JobDrops.WithLabelValues(s).Inc() }
	jobs.OnReclaim = func() { prom.PendingReclaimed.Inc() }

	pl := pipeline.New(jobs, cache, store, aggregator)
	pl.OnTickPersisted = func() {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}

	// ---- Markup refresh from durable config ----
	markupSvc := markup.New(cache)
	if rows, err := store.LatestMarkups(rootCtx); err != nil {
		log.Printf("[candled] markup load failed: %v (serving unadjusted)", err)
	} else if err := markupSvc.Refresh(rootCtx, rows); err != nil {
		log.Printf("[candled] markup refresh failed: %v", err)
	} else {
		log.Printf("[candled] refreshed %d markup configurations", len(rows))
	}

	// ---- Rebuild cached series from raw ticks ----
	if err := aggregator.Repopulate(rootCtx, pairs); err != nil {
		log.Printf("[candled] repopulation failed: %v (continuing)", err)
	}

	// ---- Recover jobs orphaned by a previous crash, then start workers ----
	if err := jobs.RecoverPending(workerCtx, queue.TickStream, pl.HandleTickJob); err != nil {
		log.Printf("[candled] tick pending recovery failed: %v", err)
	}
	if err := jobs.RecoverPending(workerCtx, queue.CandleStream, pl.HandleCandleJob); err != nil {
		log.Printf("[candled] candle pending recovery failed: %v", err)
	}
	jobs.RunWorkers(workerCtx, queue.TickStream, queue.TickWorkers, pl.HandleTickJob)
	jobs.RunWorkers(workerCtx, queue.CandleStream, queue.CandleWorkers, pl.HandleCandleJob)
	log.Printf("[candled] workers running: %d tick, %d candle", queue.TickWorkers, queue.CandleWorkers)

	// ---- Stream client ----
	client := stream.New(stream.Config{
		URL:    cfg.StreamURL,
		APIKey: cfg.StreamAPIKey,
		Pairs:  pairs,
	}, pl.IngestTick)
	client.OnReconnect = func() { prom.WSReconnects.Inc() }
	client.OnDecodeError = func() { prom.DecodeErrors.Inc() }
	client.StartHealthCheck(streamCtx)

	streamErr := make(chan error, 1)
	go func() { streamErr <- client.Run(streamCtx) }()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				health.SetStreamConnected(client.State() == stream.StateOpen)
			}
		}
	}()

	// ---- Query API ----
	querySvc := service.NewQuery(cache, store, markupSvc)
	querySvc.OnBackfill = func() { prom.Backfills.Inc() }
	handler := api.NewHandler(querySvc, logger.Component(appLog, "api"))
	handler.OnQueryDuration = func(endpoint string, seconds float64) {
		prom.QueryDuration.WithLabelValues(endpoint).Observe(seconds)
	}
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: handler.Router()}
	go func() {
		log.Printf("[candled] query API listening on %s", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[candled] api server error: %v", err)
		}
	}()

	// ---- Wait for shutdown signal or fatal stream failure ----
	select {
	case <-sigCh:
		log.Println("[candled] shutdown signal received, cleaning up...")
	case err := <-streamErr:
		if err != nil {
			log.Printf("[candled] stream terminated: %v, shutting down", err)
		} else {
			log.Println("[candled] stream stopped, shutting down")
		}
	}

	// Stop producing, then drain in-flight jobs, then close connections.
	streamCancel()
	workerCancel()
	jobs.Wait()
	log.Println("[candled] queue workers drained")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	rootCancel()

	log.Println("[candled] shutdown complete.")
}
