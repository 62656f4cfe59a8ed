package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"BatchSend/internal/api"
	"BatchSend/internal/config"
	"BatchSend/internal/db"
	"BatchSend/internal/email"
	"BatchSend/internal/events"
	"BatchSend/internal/idgen"
	"BatchSend/internal/lanes"
	"BatchSend/internal/metrics"
	"BatchSend/internal/profiles"
	"BatchSend/internal/scheduler"
	"BatchSend/internal/service"
	"BatchSend/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	var logger *zap.Logger
	if cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Ids
	// ------------------------------------------------
	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		logger.Fatal("id generator setup failed", zap.Error(err))
	}

	// ------------------------------------------------
	// SMTP Profiles
	// ------------------------------------------------
	profileCache := profiles.NewCache(store)
	n, err := profileCache.LoadAll(ctx)
	if err != nil {
		logger.Fatal("smtp profiles not loaded", zap.Error(err))
	}
	logger.Info("smtp profiles loaded", zap.Int("count", n))

	// ------------------------------------------------
	// Persistence Lanes
	// ------------------------------------------------
	laneOpts := lanes.Options{
		BatchSize:        cfg.DBBatchSize,
		PollInterval:     cfg.QueuePollInterval,
		IdleTimeout:      cfg.LaneIdleTimeout,
		WebhookWorkers:   cfg.WebhookWorkers,
		WebhookRateLimit: cfg.WebhookRateLimit,
	}
	tenantLanes := lanes.NewCache(store, &http.Client{Timeout: cfg.WebhookTimeout}, laneOpts, logger)

	// ------------------------------------------------
	// Dispatchers
	// ------------------------------------------------
	sender := &email.Sender{
		DialTimeout: cfg.SMTPDialTimeout,
		IOTimeout:   5 * time.Minute,
	}

	deps := worker.Deps{
		Dialer:    worker.SMTPDialer{Sender: sender},
		Lanes:     tenantLanes,
		LaneOpts:  laneOpts,
		RetryWait: cfg.SMTPRetryWait,
		Log:       logger,
	}

	// ------------------------------------------------
	// Schedule Lock (optional)
	// ------------------------------------------------
	schedOpts := scheduler.Options{
		LockTTL: cfg.ScheduleLockTTL,
		Log:     logger,
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid redis url", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		schedOpts.Locker = scheduler.NewRedisLocker(rdb)
		logger.Info("schedule lock enabled")
	}

	// ------------------------------------------------
	// Service
	// ------------------------------------------------
	svc := service.New(store, profileCache, worker.NewRegistry(), ids, deps, service.Options{
		AttachmentDir: cfg.AttachmentDir,
		Scheduler:     schedOpts,
	})

	if err := svc.Start(ctx); err != nil {
		logger.Fatal("service start failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Profile Events (optional)
	// ------------------------------------------------
	if cfg.NATSURL != "" {
		conn, err := events.Connect(cfg.NATSURL, "batchsend")
		if err != nil {
			logger.Fatal("nats connection failed", zap.Error(err))
		}
		defer conn.Close()

		sub := events.NewSubscriber(conn, cfg.ProfileEventsSubject, svc, logger)
		go func() {
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("profile event subscriber stopped", zap.Error(err))
			}
		}()
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Service: svc,
		Log:     logger,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiHandler.Routes(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Batches stay ACTIVE and are recovered on the next start
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatchers did not stop in time", zap.Error(err))
	}

	tenantLanes.Close()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
