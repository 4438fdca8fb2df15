package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/titledesk/mailroom/internal/api"
	"github.com/titledesk/mailroom/internal/config"
	"github.com/titledesk/mailroom/internal/dispatch"
	"github.com/titledesk/mailroom/internal/health"
	"github.com/titledesk/mailroom/internal/pkg/logger"
	"github.com/titledesk/mailroom/internal/queue"
	"github.com/titledesk/mailroom/internal/ratelimit"
	"github.com/titledesk/mailroom/internal/reconcile"
	"github.com/titledesk/mailroom/internal/selector"
	"github.com/titledesk/mailroom/internal/store"
	"github.com/titledesk/mailroom/internal/suppression"
	"github.com/titledesk/mailroom/internal/transport"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyLogConfig(cfg.Log)

	if err := checkPortAvailable(cfg.Server.Addr()); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	suppRepo := store.NewSuppressionRepo(db)
	eventRepo := store.NewEventRepo(db)
	attemptRepo := store.NewAttemptRepo(db)

	// Redis (rate limiter windows + event dedup fast path)
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Suppression registry: warm the cache before accepting traffic.
	registry := suppression.NewRegistry(suppRepo, cfg.Suppression.Registry())
	if err := registry.Refresh(ctx); err != nil {
		log.Fatalf("Failed to load suppression entries: %v", err)
	}
	go registry.StartRefreshLoop(ctx)
	logger.Info("suppression registry loaded", "entries", registry.Count())

	// Provider health, restored from the last persisted snapshots.
	monitor := health.NewMonitor(cfg.Health.Monitor(), cfg.Providers, attemptRepo)
	if snapshots, err := attemptRepo.LoadHealthSnapshots(ctx); err != nil {
		logger.Warn("health snapshot restore skipped", "error", err.Error())
	} else {
		for _, s := range snapshots {
			monitor.Restore(s)
		}
	}

	limiter := ratelimit.New(redisClient, cfg.Providers)
	sel := selector.New(cfg.Providers, monitor, limiter)

	transports, err := transport.NewRegistry(cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to build transports: %v", err)
	}

	// Durable queue for scheduled sends.
	jobs, err := queue.NewClient(cfg.RedisURL, cfg.Queue.MaxRetry)
	if err != nil {
		log.Fatalf("Failed to connect job queue: %v", err)
	}
	defer jobs.Close()

	engine := dispatch.NewEngine(transports, registry, sel, limiter, monitor, jobs, attemptRepo, cfg.Retry.Engine())
	bulk := dispatch.NewCoordinator(engine, sel, jobs)

	// Event reconciler consumes provider webhooks.
	reconciler := reconcile.New(cfg.Reconcile.Reconciler(), cfg.Providers, eventRepo, registry, monitor, redisClient)
	reconciler.Start(ctx)

	handlers := api.NewHandlers(engine, bulk, registry, suppRepo, monitor, limiter, reconciler, eventRepo, jobs, cfg.Providers)
	router := api.SetupRoutes(handlers)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr(), "providers", len(cfg.Providers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	reconciler.Wait()
}

func applyLogConfig(lc config.LogConfig) {
	switch lc.Level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	}
	if lc.RedactPII != nil {
		logger.SetRedactPII(*lc.RedactPII)
	}
}
