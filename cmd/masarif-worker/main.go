package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"masarif/internal/amqp"
	"masarif/internal/backend"
	"masarif/internal/banking"
	"masarif/internal/classify"
	"masarif/internal/config"
	"masarif/internal/log"
	"masarif/internal/services"
	"masarif/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentWorker})
	log.SetDefault(logger)

	logger.Info("Starting masarif-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}

	// Open banking source
	source := banking.NewClient(banking.ClientConfig{
		BaseURL:      cfg.BankBaseURL,
		TokenURL:     cfg.BankTokenURL,
		ClientID:     cfg.BankClientID,
		ClientSecret: cfg.BankClientSecret,
		Timeout:      cfg.BankTimeout,
	})

	classifier, err := classify.NewGeminiClassifier(ctx, cfg.GeminiModel, cfg.ClassifyTimeout, logger.WithComponent(log.ComponentClassifier))
	if err != nil {
		logger.Error("Failed to initialize classifier", "error", err)
		os.Exit(1)
	}

	ingestor := services.NewIngestor(result.Store, source, classifier, cfg.ClassifyConcurrency)
	ingestor.SetWindowDays(cfg.SyncWindowDays)

	// AMQP client for consuming sync requests
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(result.Store, ingestor, cfg.SyncInterval)

	// On startup, catch up any accounts that went stale while the worker
	// was down.
	logger.Info("Performing startup staleness check...")
	if err := syncWorker.ProcessStaleAccounts(ctx); err != nil {
		logger.Error("Startup staleness check failed", "error", err)
		// Don't exit - continue with normal operation
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- syncWorker.Run(ctx, amqpClient)
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		// Give the worker time to finish the in-flight message
		logger.Info("Shutting down worker...")
		select {
		case <-runErr:
		case <-time.After(5 * time.Second):
			logger.Warn("Shutdown timeout reached")
		}
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
		cancel()
	}
	logger.Info("Worker shutdown complete")
}
