package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"fiscalhub/internal/device/factory"
	"fiscalhub/internal/events"
	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/jobs"
	"fiscalhub/internal/ledger"
	"fiscalhub/internal/platform/config"
	"fiscalhub/internal/platform/httpserver"
	"fiscalhub/internal/platform/logger"
	"fiscalhub/internal/platform/metrics"
	platformredis "fiscalhub/internal/platform/redis"
	httptransport "fiscalhub/internal/transport/http"
	"fiscalhub/internal/zreport"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages. Stores degrade to
// in-memory implementations when postgres/redis are not configured, so a bare
// binary is usable for local development.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres failed", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	rc, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis failed", "error", err)
		os.Exit(1)
	}
	if rc != nil {
		defer rc.Close()
	}

	publisher, err := events.New(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		log.Error("connect kafka failed", "error", err)
		os.Exit(1)
	}
	if publisher != nil {
		defer publisher.Close()
	}

	var (
		fiscalStore fiscal.ConfigStore   = fiscal.NewInMemoryConfigStore()
		registry    ledger.Registry      = ledger.NewInMemoryRegistry()
		reportStore zreport.Store        = zreport.NewInMemoryStore()
		jobConfigs  jobs.ConfigStore     = jobs.NewInMemoryConfigStore()
		recorder    jobs.RunRecorder     = jobs.NewInMemoryRunRecorder()
		history     jobs.HistoryStore    = jobs.NewInMemoryHistoryStore()
		schedule    jobs.ScheduleStore   = jobs.NewInMemoryScheduleStore()
	)
	if db != nil {
		fiscalStore = fiscal.NewPostgresConfigStore(db)
		registry = ledger.NewPostgresRegistry(db)
		reportStore = zreport.NewPostgresStore(db)
		jobConfigs = jobs.NewPostgresConfigStore(db)
		history = jobs.NewPostgresHistoryStore(db)
	}
	if rc != nil {
		recorder = jobs.NewRedisRunRecorder(rc.Client)
		schedule = jobs.NewRedisScheduleStore(rc.Client)
	}

	adapters := factory.New(factory.WithTimeout(cfg.DeviceTimeout))
	fiscalManager := fiscal.NewManager(fiscalStore, adapters, log, m, publisher)
	generator := zreport.NewGenerator(registry, reportStore, log, m)
	jobManager := jobs.NewManager(ctx, fiscalManager, generator,
		jobConfigs, recorder, history, schedule, log, m,
		jobs.WithHistoryLimit(cfg.JobHistoryLimit),
		jobs.WithCloseWindow(cfg.CloseWindow),
		jobs.WithEvents(publisher),
	)

	r := chi.NewRouter()
	handler := httptransport.New(fiscalManager, jobManager, generator, log)
	handler.Register(r)

	srv := httpserver.New(cfg.Addr, r)
	log.Info("starting fiscalhub", "addr", cfg.Addr,
		"postgres", db != nil, "redis", rc != nil, "events", publisher != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
