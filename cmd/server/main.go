/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the spares ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Build the zap logger
  3. Open the store selected by STORE_DRIVER
  4. Wire the change feed and item lock (Redis when configured)
  5. Load the projection and follow the feed
  6. Start the monthly report scheduler
  7. Start the HTTP server with graceful shutdown

FEED WIRING:
  Without Redis every write publishes into the in-process hub.
  With Redis every write publishes to the channel and one listener per
  instance relays the channel into the local hub, so projections on all
  instances see all writes, including their own, exactly once.

COMMAND-LINE FLAGS:
  -env     Path to an env file (default: .env, optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and feed listeners
  4. Close the store

NOTE:
  Seeding is never part of start-up. Use cmd/seed or POST /api/seed.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridmaster/spares-ledger/api"
	"github.com/gridmaster/spares-ledger/config"
	"github.com/gridmaster/spares-ledger/feed"
	"github.com/gridmaster/spares-ledger/lock"
	"github.com/gridmaster/spares-ledger/logger"
	"github.com/gridmaster/spares-ledger/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("env", "", "path to an env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	st, closeStore, err := store.Open(cfg.Store, baseLogger.Named("store"))
	if err != nil {
		baseLogger.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			baseLogger.Error("failed to close store", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := feed.NewHub()
	var (
		publisher feed.Publisher = hub
		locker    lock.Locker    = lock.NewLocal()
	)

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			baseLogger.Fatal("failed to reach redis", zap.String("address", cfg.Redis.Address), zap.Error(err))
		}

		redisFeed := feed.NewRedis(rdb, cfg.Redis.Channel, baseLogger.Named("feed.redis"))
		publisher = redisFeed
		locker = lock.NewRedis(rdb, "spares:lock:", 25*time.Millisecond, 40)

		go func() {
			if err := redisFeed.Listen(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				baseLogger.Error("redis feed listener stopped", zap.Error(err))
			}
		}()
		baseLogger.Info("redis lock and change feed enabled", zap.String("channel", cfg.Redis.Channel))
	}

	handler := api.NewHandler(st, publisher, baseLogger.Named("api"))
	handler.Events = hub
	handler.Executor.Locker = locker
	handler.Executor.MaxAttempts = cfg.Executor.MaxAttempts

	loc, err := cfg.Reporting.Location()
	if err != nil {
		baseLogger.Fatal("invalid report timezone", zap.Error(err))
	}
	handler.Location = loc

	events, unsubscribe := hub.Subscribe(1024)
	defer unsubscribe()
	if err := handler.Projection.Refresh(ctx); err != nil {
		baseLogger.Fatal("failed to load projection", zap.Error(err))
	}
	go handler.Projection.Run(ctx, events)
	baseLogger.Info("projection loaded", zap.Int("items", handler.Projection.Len()))

	sched := api.NewReportScheduler(handler.Engine, st, cfg.Reporting.Directory, baseLogger.Named("scheduler"))
	sched.Location = loc
	if err := sched.Start(cfg.Reporting.CronSchedule); err != nil {
		baseLogger.Fatal("failed to start report scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler, nil),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	baseLogger.Info("server stopped", zap.Int64("dropped_events", hub.Dropped()))
}
