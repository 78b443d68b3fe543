package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/internal/application/orchestrator"
	"github.com/aescanero/stepflow/internal/application/workers"
	"github.com/aescanero/stepflow/internal/config"
	eventsmem "github.com/aescanero/stepflow/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/stepflow/pkg/adapters/events/redis"
	"github.com/aescanero/stepflow/pkg/adapters/llm"
	"github.com/aescanero/stepflow/pkg/adapters/metrics/prometheus"
	storagemem "github.com/aescanero/stepflow/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/stepflow/pkg/adapters/storage/redis"
	storagesqlite "github.com/aescanero/stepflow/pkg/adapters/storage/sqlite"
	"github.com/aescanero/stepflow/pkg/api/grpc"
	"github.com/aescanero/stepflow/pkg/api/http"
	"github.com/aescanero/stepflow/pkg/api/websocket"
	"github.com/aescanero/stepflow/pkg/ports"
	"github.com/aescanero/stepflow/pkg/steps"
)

const pruneInterval = time.Hour

func serve() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting stepflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", zap.Error(err))
			return 1
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()

	var store ports.ResultStore
	var closeStore func() error
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		store = storageredis.NewReportStore(redisClient, cfg.Storage.ResultTTL, logger)
	case config.BackendSQLite:
		sqliteStore, err := storagesqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Error("failed to open SQLite store", zap.Error(err))
			return 1
		}
		store, closeStore = sqliteStore, sqliteStore.Close
		if cfg.Storage.ResultTTL > 0 {
			go pruneReports(pruneCtx, sqliteStore, cfg.Storage.ResultTTL, logger)
		}
	default:
		store = storagemem.NewReportStore()
	}
	logger.Info("result store ready", zap.String("backend", cfg.Storage.Backend))

	var eventBus ports.EventBus
	switch cfg.Events.Backend {
	case config.BackendRedis:
		eventBus = eventsredis.NewStreamsEventBus(redisClient, cfg.Events.Group, cfg.Events.Consumer, logger)
	default:
		eventBus = eventsmem.NewEventBus(logger)
	}

	metricsCollector := prometheus.NewCollector(nil)

	llmClient, err := llm.NewClient(&llm.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
		Logger:     logger,
		Metrics:    metricsCollector,
	})
	if err != nil {
		logger.Error("failed to create LLM client", zap.Error(err))
		return 1
	}

	workerPool := workers.NewPool(cfg.Workers.PoolSize, metricsCollector, logger, cfg.Workers.HealthCheckInterval)
	if err := workerPool.Start(); err != nil {
		logger.Error("failed to start worker pool", zap.Error(err))
		return 1
	}

	registry := steps.DefaultRegistry()
	manager := orchestrator.NewManager(
		registry,
		orchestrator.NewValidator(registry),
		workerPool,
		eventBus,
		store,
		metricsCollector,
		logger,
		orchestrator.Options{
			StepTimeout:      cfg.Timeouts.Step,
			BatchTimeout:     cfg.Timeouts.Batch,
			LLM:              llmClient,
			DefaultModel:     cfg.LLM.DefaultModel,
			DefaultMaxTokens: cfg.LLM.DefaultMaxTokens,
		},
	)

	httpServer := http.NewServer(&http.Config{
		Port:    cfg.HTTPPort,
		Manager: manager,
		Health:  workerPool.Health(),
		Logger:  logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, manager, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:      cfg.GRPCPort,
		Readiness: manager,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create gRPC server", zap.Error(err))
		return 1
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("stepflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Strings("step_kinds", registry.Kinds()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	stopPrune()
	if closeStore != nil {
		if err := closeStore(); err != nil {
			logger.Error("result store close error", zap.Error(err))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("stepflow shut down complete")
	return exitCode
}

// pruneReports deletes SQLite reports older than ttl. Redis expires its own
// keys.
func pruneReports(ctx context.Context, store *storagesqlite.ReportStore, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-ttl))
			if err != nil {
				logger.Error("failed to prune reports", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("pruned expired reports", zap.Int64("count", n))
			}
		}
	}
}
