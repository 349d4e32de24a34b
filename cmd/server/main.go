/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server. Handles configuration,
  dependency injection, scheduler recovery and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config file, LEAVE_* env)
  2. Build the logger
  3. Open the store (sqlite or memory)
  4. Build the ledger and the services
  5. Start the accrual scheduler (recovery scan re-registers timers)
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and cancel pending timers
  4. Close the database connection

EXAMPLES:
  # Run with defaults (./leave.db)
  ./server

  # Run with in-memory SQLite on port 3000
  LEAVE_DB_PATH=":memory:" LEAVE_SERVER_PORT=3000 ./server

SEE ALSO:
  - config/config.go: configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-ledger/accrual"
	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/generic/store"
	"github.com/warp/leave-ledger/logger"
	"github.com/warp/leave-ledger/reconcile"
	"github.com/warp/leave-ledger/store/sqlite"
	"github.com/warp/leave-ledger/timeoff"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Initialize store
	var ts generic.TxStore
	switch cfg.Database.Driver {
	case "memory":
		ts = store.NewMemory()
	default:
		db, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer db.Close()
		ts = db
	}
	log.Info("store ready", zap.String("driver", cfg.Database.Driver), zap.String("path", cfg.Database.Path))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ledger := generic.NewLedger(generic.SystemClock{}, cfg.AllowNegative()...)

	requests := timeoff.NewRequestService(ts, ledger, log.Named("requests"))

	scheduler := accrual.NewScheduler(ts, ledger, log.Named("accrual"))
	scheduler.Location = loc
	scheduler.CheckInterval = cfg.Scheduler.CheckInterval
	if cfg.Scheduler.LockTTL > 0 {
		scheduler.LockTTL = cfg.Scheduler.LockTTL
	}
	if cfg.Scheduler.Lock == "redis" {
		locker, err := accrual.NewRedisLocker(accrual.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log.Named("lock"))
		if err != nil {
			return err
		}
		scheduler.Locker = locker
	}

	reconciler := reconcile.NewEngine(ts, ledger, log.Named("reconcile"))
	reconciler.SecondaryBucket = generic.BucketType(cfg.Reconcile.SecondaryBucket)

	// Start accrual scheduler (runs the recovery scan first)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(ts, ledger, api.Services{
		Requests:   requests,
		Accruals:   scheduler,
		Reconciler: reconciler,
	}, log.Named("api"))
	router := api.NewRouter(handler, cfg.Server.CORS.AllowOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
