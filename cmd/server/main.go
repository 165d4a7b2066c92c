package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/driver-assignment/internal/availability"
	"github.com/example/driver-assignment/internal/clock"
	"github.com/example/driver-assignment/internal/config"
	"github.com/example/driver-assignment/internal/geo"
	httpapi "github.com/example/driver-assignment/internal/http"
	"github.com/example/driver-assignment/internal/ingest"
	"github.com/example/driver-assignment/internal/logging"
	"github.com/example/driver-assignment/internal/notify"
	"github.com/example/driver-assignment/internal/perf"
	"github.com/example/driver-assignment/internal/queue"
	"github.com/example/driver-assignment/internal/scheduler"
	"github.com/example/driver-assignment/internal/selector"
	"github.com/example/driver-assignment/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	var q queue.Queue
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		if os.Getenv("MIGRATE") == "true" {
			if err := migrate(ps.DB()); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = ps
		q = queue.NewPostgres(ps.DB())
	} else {
		store = storage.NewMemoryStore()
		q = queue.NewMemory()
	}

	var locations geo.LocationIndex
	if cfg.RedisAddr != "" {
		locations = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		locations = geo.NewMemoryIndex()
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	clk := clock.Real{}
	registry := availability.NewRegistry(clk)
	wsreg := notify.NewWSRegistry(logger)
	notifier := notify.NewPushNotifier(wsreg, cfg.PushEndpoint, cfg.PushKey)
	tracker := perf.NewTracker(store, perf.DefaultAlpha, logger)
	sel := selector.New(registry, store, locations, logger)
	sched := scheduler.New(store, q, sel, registry, tracker, notifier, clk, logger)
	api := httpapi.NewServer(sched, registry, store, q, locations, producer, wsreg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.RunSweeper(ctx, cfg.SweepInterval)
	go sched.RunRequeuer(ctx, cfg.RequeueInterval)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("driver-assignment listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func migrate(db *sql.DB) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
