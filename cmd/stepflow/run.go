package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/stepflow/internal/application/orchestrator"
	"github.com/aescanero/stepflow/internal/application/workers"
	"github.com/aescanero/stepflow/internal/config"
	eventsmem "github.com/aescanero/stepflow/pkg/adapters/events/memory"
	"github.com/aescanero/stepflow/pkg/adapters/llm"
	storagemem "github.com/aescanero/stepflow/pkg/adapters/storage/memory"
	"github.com/aescanero/stepflow/pkg/definition"
	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/steps"
)

// runCommand runs a single batch in process. The exit code is 0 when every
// step succeeded, 1 when the batch failed and 2 on usage or setup errors.
func runCommand(args []string, stdout, stderr io.Writer) int {
	flagSet := flag.NewFlagSet("stepflow run", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	file := flagSet.String("f", "", "Path to the batch definition (.hcl or .json).")
	timeout := flagSet.Duration("timeout", 0, "Cancel the batch after this long. 0 uses TIMEOUT_BATCH.")
	logLevel := flagSet.String("log-level", "", "Override LOG_LEVEL.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if *file == "" && flagSet.NArg() > 0 {
		*file = flagSet.Arg(0)
	}
	if *file == "" {
		fmt.Fprintln(stderr, "a batch definition is required: stepflow run -f FILE")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 2
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *timeout > 0 {
		cfg.Timeouts.Batch = *timeout
	}

	def, err := definition.LoadFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	report, err := runBatch(cfg, def, logger)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stderr, "failed to write report: %v\n", err)
		return 2
	}

	if report.Status != domain.BatchStatusSucceeded {
		return 1
	}
	return 0
}

func runBatch(cfg *config.Config, def *definition.Batch, logger *zap.Logger) (*domain.BatchReport, error) {
	llmClient, err := llm.NewClient(&llm.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	pool := workers.NewPool(cfg.Workers.PoolSize, nil, logger, cfg.Workers.HealthCheckInterval)
	if err := pool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	bus := eventsmem.NewEventBus(logger)
	registry := steps.DefaultRegistry()
	manager := orchestrator.NewManager(
		registry,
		orchestrator.NewValidator(registry),
		pool,
		bus,
		storagemem.NewReportStore(),
		nil,
		logger,
		orchestrator.Options{
			StepTimeout:      cfg.Timeouts.Step,
			BatchTimeout:     cfg.Timeouts.Batch,
			LLM:              llmClient,
			DefaultModel:     cfg.LLM.DefaultModel,
			DefaultMaxTokens: cfg.LLM.DefaultMaxTokens,
		},
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
		defer cancel()
		if err := manager.Shutdown(ctx); err != nil {
			logger.Error("orchestrator shutdown error", zap.Error(err))
		}
		if err := pool.Shutdown(ctx); err != nil {
			logger.Error("worker pool shutdown error", zap.Error(err))
		}
		_ = bus.Close()
	}()

	batchID, err := manager.SubmitBatch(context.Background(), def)
	if err != nil {
		return nil, err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sigCh:
			logger.Info("received interrupt, canceling batch", zap.String("batch_id", batchID))
			_ = manager.CancelBatch(batchID)
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	report, err := manager.Wait(ctx, batchID)
	if err != nil {
		return nil, err
	}
	logger.Debug("batch run complete",
		zap.String("batch_id", batchID),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}
