package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/titledesk/mailroom/internal/config"
	"github.com/titledesk/mailroom/internal/dispatch"
	"github.com/titledesk/mailroom/internal/health"
	"github.com/titledesk/mailroom/internal/pkg/logger"
	"github.com/titledesk/mailroom/internal/queue"
	"github.com/titledesk/mailroom/internal/ratelimit"
	"github.com/titledesk/mailroom/internal/selector"
	"github.com/titledesk/mailroom/internal/store"
	"github.com/titledesk/mailroom/internal/suppression"
	"github.com/titledesk/mailroom/internal/transport"
)

// The worker drains the durable queue: scheduled sends re-enter a fully
// wired dispatch engine at their due time. It shares the database and
// Redis state with the API server, so suppression, rate limits, and
// provider health stay consistent across both processes.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	suppRepo := store.NewSuppressionRepo(db)
	attemptRepo := store.NewAttemptRepo(db)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	registry := suppression.NewRegistry(suppRepo, cfg.Suppression.Registry())
	if err := registry.Refresh(ctx); err != nil {
		log.Fatalf("Failed to load suppression entries: %v", err)
	}
	go registry.StartRefreshLoop(ctx)

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

	// The worker's engine has no scheduler: a message already due must
	// dispatch now, not re-enter the queue.
	engine := dispatch.NewEngine(transports, registry, sel, limiter, monitor, nil, attemptRepo, cfg.Retry.Engine())

	srv, err := queue.NewServer(cfg.RedisURL, cfg.Queue.Concurrency)
	if err != nil {
		log.Fatalf("Failed to build queue server: %v", err)
	}
	mux := queue.NewMux(engine)

	go func() {
		logger.Info("worker starting", "concurrency", cfg.Queue.Concurrency)
		if err := srv.Run(mux); err != nil {
			log.Fatalf("Worker failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker shutting down")
	cancel()
	srv.Shutdown()
}
